// validation.go - Upload validation and filename sanitisation helpers
package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// allowedModelTypes is the MIME allow-list for model uploads. Matching is
// exact: no case folding and no parameter stripping, so
// "model/gltf-binary; charset=x" is rejected.
var allowedModelTypes = map[string]bool{
	"model/gltf-binary":        true,
	"model/gltf+json":          true,
	"model/stl":                true,
	"model/obj":                true,
	"model/mtl":                true,
	"model/vnd.collada+xml":    true,
	"application/octet-stream": true,
}

// ErrUnsupportedType is wrapped by ValidateModelMimeType on rejection.
var ErrUnsupportedType = errors.New("unsupported file type")

// ValidateModelMimeType reports whether a client-declared content type may
// be stored.
func ValidateModelMimeType(contentType string) error {
	if !allowedModelTypes[contentType] {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return nil
}

// AllowedModelTypes returns the allow-list in sorted order.
func AllowedModelTypes() []string {
	out := make([]string, 0, len(allowedModelTypes))
	for t := range allowedModelTypes {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// SanitizeFilename reduces a client-supplied filename to its base name and
// strips characters that have no business in an object key.
func SanitizeFilename(filename string) string {
	// Drop any directory part, whichever separator the client used
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}

	filename = strings.ReplaceAll(filename, "\x00", "")
	filename = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, filename)

	// Trim spaces and dots from start/end
	filename = strings.Trim(filename, " .")

	if len(filename) > 255 {
		ext := filepath.Ext(filename)
		if len(ext) > 32 {
			ext = ""
		}
		filename = strings.ToValidUTF8(filename[:255-len(ext)], "") + ext
	}

	if filename == "" {
		filename = "unnamed"
	}
	return filename
}
