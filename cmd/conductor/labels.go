package main

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var labelCaser = cases.Title(language.English)

// humanize turns machine identifiers like "manual-review" or
// "gap-analysis" into display labels.
func humanize(value string) string {
	if value == "" {
		return "-"
	}
	cleaned := strings.NewReplacer("-", " ", "_", " ").Replace(value)
	return labelCaser.String(cleaned)
}
