package cache

import (
	"fmt"
	"path"
	"strings"

	"github.com/linecue/linecue/internal/cachekey"
)

// Locator derives the storage path for a line rendering:
// <owner>/<script>/<lineIndex>-<keyprefix><ext>.
func Locator(ownerID, scriptID string, lineIndex int, key, contentType string) string {
	return path.Join(
		safeSegment(ownerID),
		safeSegment(scriptID),
		fmt.Sprintf("%d-%s%s", lineIndex, cachekey.Prefix(key), extensionFor(contentType)),
	)
}

// validLocator reports whether loc is a clean relative path.
func validLocator(loc string) bool {
	if loc == "" || strings.HasPrefix(loc, "/") || strings.Contains(loc, "\\") {
		return false
	}
	if path.Clean(loc) != loc {
		return false
	}
	for _, seg := range strings.Split(loc, "/") {
		if seg == ".." || seg == "." || strings.HasPrefix(seg, ".") {
			return false
		}
	}
	return true
}

func safeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "", "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/l16", "audio/pcm":
		return ".pcm"
	default:
		return ".bin"
	}
}
