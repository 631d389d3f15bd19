package resolver

import (
	"regexp"
	"strings"
)

// noise appended by uploaders to artist names and titles.
var suffixesToRemove = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*- topic$`),
	regexp.MustCompile(`(?i)\s*vevo$`),

	regexp.MustCompile(`(?i)\s*[(\[]official.*?[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[](lyrics?|visualizer|audio)\s*(video)?[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]performance video[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]clip official[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]video version[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[](HD|HQ)\s*(audio)?[)\]]$`),
	regexp.MustCompile(`(?i)\s*[(\[]live[)\]]$`),
	regexp.MustCompile(`(?i)\s*[(\[]4K\s*(upgrade)?[)\]]$`),
}

// CleanupName strips channel and upload decorations from a display name.
func CleanupName(name string) string {
	for _, re := range suffixesToRemove {
		name = re.ReplaceAllString(name, "")
	}

	return strings.TrimSpace(name)
}
