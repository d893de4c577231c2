package platform

import "strings"

// Instagram enforces the tightest caption limit of the three platforms.
const maxCaptionLen = 2200

// BuildCaption assembles the post text from the content item's title and
// description plus the configured call to action. Pure and deterministic.
func BuildCaption(title, description, callToAction string) string {
	var parts []string
	for _, p := range []string{title, description, callToAction} {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	caption := strings.Join(parts, "\n\n")

	if runes := []rune(caption); len(runes) > maxCaptionLen {
		caption = string(runes[:maxCaptionLen-1]) + "…"
	}
	return caption
}
