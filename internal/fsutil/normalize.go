package fsutil

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

const nodeModulesDir = "node_modules"

// CleanFSPath normalizes a request path for use with fs.FS, rejecting any
// path that would escape the root.
func CleanFSPath(pathValue string) (string, error) {
	slashPath := filepath.ToSlash(pathValue)
	slashPath = strings.TrimPrefix(slashPath, "/")
	if slashPath == "" {
		return ".", nil
	}
	cleaned := path.Clean(slashPath)
	if cleaned == "." {
		return ".", nil
	}
	if !fs.ValidPath(cleaned) {
		return "", fmt.Errorf("invalid fs path: %q", pathValue)
	}
	return cleaned, nil
}

// SkipName reports whether a directory entry is outside the project view:
// hidden entries and dependency trees.
func SkipName(name string) bool {
	return strings.HasPrefix(name, ".") || name == nodeModulesDir
}

// URLPath converts a path under root into its URL form: a leading slash and
// forward separators.
func URLPath(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if !IsWithin(root, target) {
		return "", fmt.Errorf("%q is outside %q", target, root)
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + filepath.ToSlash(rel), nil
}

// IsWithin reports whether child is parent or a descendant of it.
func IsWithin(parent, child string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
