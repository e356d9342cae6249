package mail

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var collapseWhitespace = regexp.MustCompile(`[ \t]+`)

// HTMLToText extracts readable text from an HTML-only email body.
func HTMLToText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	doc.Find("script, style, head").Remove()

	text := doc.Text()
	text = collapseWhitespace.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}

	return strings.Join(cleaned, "\n")
}
