package archive

import (
	"regexp"
	"strings"
)

var disallowedRunes = regexp.MustCompile(`[^\w\-.]`)

// SanitizeFilename rewrites a name into a storage-safe key component: path
// components stripped, disallowed characters replaced with underscores, no
// leading dot, at most 255 bytes with the extension preserved. Idempotent.
func SanitizeFilename(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	s := disallowedRunes.ReplaceAllString(name, "_")
	if strings.HasPrefix(s, ".") {
		s = "file_" + s[1:]
	}
	if len(s) > 255 {
		base, ext := s, ""
		if i := strings.LastIndexByte(s, '.'); i >= 0 {
			base, ext = s[:i], s[i+1:]
		}
		if maxBase := 255 - len(ext) - 1; ext != "" && maxBase > 0 {
			s = base[:maxBase] + "." + ext
		} else {
			s = s[:255]
		}
	}
	return s
}
