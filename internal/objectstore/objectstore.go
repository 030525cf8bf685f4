// Package objectstore keeps uploaded import files.
//
// Three backends implement core.ObjectStore: the local filesystem, S3 (or
// any S3-compatible service) and memory. Keys are slash-separated paths
// such as "imports/{jobID}/{file}".
package objectstore

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get for keys that were never stored.
var ErrNotFound = errors.New("object not found")

// cleanKey rejects keys that are empty, absolute or climb out of the root.
func cleanKey(key string) (string, error) {
	k := path.Clean(strings.TrimSpace(key))
	if k == "." || k == "" || strings.HasPrefix(k, "/") || k == ".." || strings.HasPrefix(k, "../") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return k, nil
}
