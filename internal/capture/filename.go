package capture

import (
	"fmt"
	"strings"
	"unicode"
)

// unsafeRunes cannot appear in file names on common filesystems.
const unsafeRunes = `\/:*?"<>|`

// SanitizeReference removes path-unsafe and control characters from ref,
// trims surrounding space and keeps at most maxRunes runes. The result is
// empty when nothing usable remains.
func SanitizeReference(ref string, maxRunes int) string {
	var b strings.Builder
	for _, r := range ref {
		if strings.ContainsRune(unsafeRunes, r) || unicode.IsControl(r) || r == unicode.ReplacementChar {
			continue
		}
		if unicode.IsSpace(r) {
			r = ' '
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())
	// Dots at the edges would produce hidden or odd names.
	cleaned = strings.Trim(cleaned, ". ")

	if maxRunes > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxRunes {
			cleaned = strings.Trim(string(runes[:maxRunes]), ". ")
		}
	}
	return cleaned
}

// DocumentName is the file name for a rendered receipt. The global index is
// always embedded so names never collide across items; ref is assumed to be
// sanitized already.
func DocumentName(prefix string, globalIndex int, ref string) string {
	if ref == "" {
		return fmt.Sprintf("%s_%03d.pdf", prefix, globalIndex)
	}
	return fmt.Sprintf("%s_%03d_%s.pdf", prefix, globalIndex, ref)
}

// ImageName is the file name for a raster fallback.
func ImageName(prefix string, globalIndex int) string {
	return fmt.Sprintf("%s_%03d.png", prefix, globalIndex)
}
