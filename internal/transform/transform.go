// Package transform provides the pure content-cleaning step applied to
// fetched nodes before aggregation.
package transform

import (
	"html"
	"regexp"
	"strings"
)

var (
	scriptPattern  = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	stylePattern   = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	headingPattern = regexp.MustCompile(`(?is)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	breakPattern   = regexp.MustCompile(`(?i)<(?:br|/p|/div|/li|/tr|/h[1-6])[^>]*>`)
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
	spacePattern   = regexp.MustCompile(`[ \t]+`)
	blankPattern   = regexp.MustCompile(`\n{3,}`)
)

// Clean converts raw markup into plain text and extracts section headings
// as labels. Pure function: no side effects, no I/O. Non-markup input
// passes through with whitespace normalized.
func Clean(raw string) (string, []string) {
	if raw == "" {
		return "", nil
	}

	stripped := scriptPattern.ReplaceAllString(raw, " ")
	stripped = stylePattern.ReplaceAllString(stripped, " ")

	var labels []string
	seen := make(map[string]struct{})
	for _, m := range headingPattern.FindAllStringSubmatch(stripped, -1) {
		heading := normalize(tagPattern.ReplaceAllString(m[1], " "))
		if heading == "" {
			continue
		}
		if _, dup := seen[heading]; dup {
			continue
		}
		seen[heading] = struct{}{}
		labels = append(labels, heading)
	}

	stripped = breakPattern.ReplaceAllString(stripped, "\n")
	stripped = tagPattern.ReplaceAllString(stripped, " ")
	stripped = html.UnescapeString(stripped)

	lines := strings.Split(stripped, "\n")
	for i, line := range lines {
		lines[i] = normalize(line)
	}
	text := strings.Join(lines, "\n")
	text = blankPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), labels
}

func normalize(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
