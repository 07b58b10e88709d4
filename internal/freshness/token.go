// Package freshness derives cache-validation tokens from file modification
// times. A token is the mtime in whole seconds since the Unix epoch, written
// in decimal; it changes whenever a write bumps the mtime into a new second.
package freshness

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
)

// FromTime returns the token for a modification time.
func FromTime(modified time.Time) string {
	return strconv.FormatInt(modified.Unix(), 10)
}

// FromInfo returns the token for a stat result.
func FromInfo(info fs.FileInfo) string {
	return FromTime(info.ModTime())
}

// ForFile stats path and returns its token.
func ForFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return FromInfo(info), nil
}

// ETag returns the token quoted for use as an HTTP entity tag.
func ETag(token string) string {
	return strconv.Quote(token)
}
