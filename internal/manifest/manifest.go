// Package manifest builds the freshness manifest served to clients: every
// project file's URL path mapped to its freshness token, plus the list of
// URLs and URL prefixes the mapping deliberately does not cover.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mho/internal/freshness"
	"mho/internal/fsutil"
)

// Paths served from outside the project root. They never appear in Files.
var StaticExcluded = []string{
	"/deps/",
	"/mho-client.js",
	"/mho-worker.js",
}

// Manifest is the JSON document returned by the manifest endpoint.
type Manifest struct {
	// Files maps URL path to freshness token. A path missing here does not
	// exist unless Excluded covers it.
	Files map[string]string `json:"files"`
	// Excluded lists URLs and URL prefixes (ending in "/") outside Files.
	Excluded []string `json:"excluded"`
}

type Status int

const (
	StatusMissing Status = iota
	StatusPresent
	StatusExcluded
)

func (s Status) String() string {
	switch s {
	case StatusPresent:
		return "present"
	case StatusExcluded:
		return "excluded"
	default:
		return "missing"
	}
}

// Build walks root and returns its manifest. Entries that cannot be stat'ed
// are left out; only a failure to read root itself is returned.
func Build(root string) (Manifest, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest root: %w", err)
	}
	if !info.IsDir() {
		return Manifest{}, fmt.Errorf("manifest root %s: not a directory", root)
	}

	files := make(map[string]string)
	excluded := make(map[string]struct{}, len(StaticExcluded))
	for _, entry := range StaticExcluded {
		excluded[entry] = struct{}{}
	}

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		urlPath, err := fsutil.URLPath(root, path)
		if err != nil {
			return nil
		}
		if fsutil.SkipName(entry.Name()) {
			if entry.IsDir() {
				excluded[urlPath+"/"] = struct{}{}
				return filepath.SkipDir
			}
			excluded[urlPath] = struct{}{}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		fileInfo, err := entry.Info()
		if err != nil {
			return nil
		}
		files[urlPath] = freshness.FromInfo(fileInfo)
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("walk %s: %w", root, err)
	}

	list := make([]string, 0, len(excluded))
	for entry := range excluded {
		list = append(list, entry)
	}
	sort.Strings(list)
	return Manifest{Files: files, Excluded: list}, nil
}

// Lookup classifies a URL path against the manifest.
func (m Manifest) Lookup(urlPath string) (string, Status) {
	if token, ok := m.Files[urlPath]; ok {
		return token, StatusPresent
	}
	for _, entry := range m.Excluded {
		if entry == urlPath {
			return "", StatusExcluded
		}
		if strings.HasSuffix(entry, "/") && strings.HasPrefix(urlPath, entry) {
			return "", StatusExcluded
		}
	}
	return "", StatusMissing
}

// IsNotExist reports whether err came from a missing manifest root.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
