package overlay

import (
	"os"
	"strings"

	"vnforms.dev/db/repository"
)

// candidateFontPaths lists the platform-specific installed-font locations
// probed in order when the detector's preferred family isn't available
// (spec.md §4.7: "a registered Unicode-capable font discovered by probing
// a platform-specific path list"). A Times/Liberation hint first tries only
// the Liberation Serif entry; for any other hint, or when that entry is
// missing, every path is probed in list order, Liberation Serif included.
var candidateFontPaths = []string{
	"/usr/share/fonts/truetype/liberation/LiberationSerif-Regular.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/noto/NotoSans-Regular.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/Library/Fonts/Arial Unicode.ttf",
}

// resolveFontPath picks a usable Unicode TTF path for the detector's font
// hint, preferring an explicit override, then Liberation Serif when the
// hint names a Times/Liberation family, then the first candidate path that
// exists on disk.
func resolveFontPath(overridePath string, hint repository.FontInfo) string {
	if overridePath != "" {
		return overridePath
	}

	wantsSerif := strings.Contains(strings.ToLower(hint.Primary), "times") ||
		strings.Contains(strings.ToLower(hint.Primary), "liberation")

	for _, p := range candidateFontPaths {
		if wantsSerif && !strings.Contains(strings.ToLower(p), "liberation") {
			continue
		}
		if fileExists(p) {
			return p
		}
	}

	for _, p := range candidateFontPaths {
		if fileExists(p) {
			return p
		}
	}

	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
