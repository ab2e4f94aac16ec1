package utils

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// NormalizeFilename prepares an uploaded filename for identity matching:
// path components are stripped and whitespace runs become single underscores.
func NormalizeFilename(filename string) string {
	filename = filepath.Base(filename)
	return strings.Join(strings.Fields(filename), "_")
}

// ValidFilename reports whether a normalized filename satisfies the upload
// protocol's restrictive charset: letters, digits, periods, underscores and
// dashes only.
func ValidFilename(filename string) bool {
	if filename == "" || filename == "." || filename == ".." {
		return false
	}
	return filenamePattern.MatchString(filename)
}

// UploadIdentifier derives the client-side correlation key for a file. It
// must match what producers compute: "{sizeBytes}-{sanitizedFilename}" with
// every character outside [0-9a-zA-Z_-] removed.
func UploadIdentifier(filename string, sizeBytes int64) string {
	var b strings.Builder
	b.Grow(len(filename))
	for _, r := range filename {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return strconv.FormatInt(sizeBytes, 10) + "-" + b.String()
}
