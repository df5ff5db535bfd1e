package utils

import "strings"

// NormalizeScene canonicalizes a scene name on ingest: surrounding
// whitespace is dropped and colons become underscores so the name is
// safe inside delimiter-joined keys.
func NormalizeScene(scene string) string {
	return strings.ReplaceAll(strings.TrimSpace(scene), ":", "_")
}
