package ingest

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/scanflow/constants"
)

// allowed checks path's extension against exts.
func allowed(path string, exts map[string]struct{}) bool {
	_, ok := exts[constants.NormalizeExt(filepath.Ext(path))]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// DocumentID derives a stable id from the absolute source path, so reruns
// over the same tree produce the same ids.
func DocumentID(absPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(absPath))).String()
}
