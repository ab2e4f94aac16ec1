package airlift

import (
	"regexp"
	"strconv"
	"strings"
)

var filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// NormalizeFilename collapses whitespace runs into single underscores the
// same way the server does, so both sides agree on a file's identity.
func NormalizeFilename(filename string) string {
	return strings.Join(strings.Fields(filename), "_")
}

// ValidFilename reports whether a normalized filename satisfies the upload
// protocol's restrictive charset.
func ValidFilename(filename string) bool {
	if filename == "" || filename == "." || filename == ".." {
		return false
	}
	return filenamePattern.MatchString(filename)
}

// UploadIdentifier derives the correlation key for a file:
// "{sizeBytes}-{sanitizedFilename}" with every character outside
// [0-9a-zA-Z_-] removed.
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
