package generator

import (
	"strings"

	"github.com/nugget/refine/internal/prompts"
)

// Download contract for the generated description.
const (
	DownloadFilename    = "agile_description.md"
	DownloadContentType = "text/markdown"
)

// CheckSections returns the required headings that do not appear as a
// level-two heading line in markdown, in template order. A nil result
// means every section is present.
func CheckSections(markdown string) []string {
	present := make(map[string]bool, len(prompts.RequiredSections))
	for line := range strings.Lines(markdown) {
		heading, ok := strings.CutPrefix(strings.TrimSpace(line), "## ")
		if !ok {
			continue
		}
		present[strings.ToLower(strings.TrimSpace(heading))] = true
	}

	var missing []string
	for _, s := range prompts.RequiredSections {
		if !present[strings.ToLower(s)] {
			missing = append(missing, s)
		}
	}
	return missing
}
