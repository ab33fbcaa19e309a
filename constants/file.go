package constants

import "strings"

// Source formats a document can be discovered as.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
)

// AllowedExtensions holds the default extensions picked up by discovery.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"tiff": {},
	"tif":  {},
	"bmp":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// MapExtToFormat returns PDF or IMAGE for a known extension, "" otherwise.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "png", "jpg", "jpeg", "tiff", "tif", "bmp":
		return IMAGE
	default:
		return ""
	}
}

// ExtensionSet builds a lookup set from a user supplied list, falling back to
// AllowedExtensions when the list is empty.
func ExtensionSet(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		return AllowedExtensions
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		if e = NormalizeExt(e); e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}
