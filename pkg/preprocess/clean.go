package preprocess

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
)

var htmlTagRe = regexp.MustCompile(`(?i)<\s*(html|body|p|div|span|article|a|br|h[1-6])[\s>/]`)

// looksLikeHTML is a cheap check for markup in article bodies. News
// APIs mostly deliver plain text, but some sources embed fragments.
func looksLikeHTML(text string) bool {
	return htmlTagRe.MatchString(text)
}

// CleanText strips markup and normalizes whitespace. HTML-looking
// bodies go through readability to extract the readable content;
// plain text is only whitespace-normalized.
func CleanText(body, sourceURL string) (string, error) {
	if looksLikeHTML(body) {
		base, err := url.Parse(sourceURL)
		if err != nil || base.Host == "" {
			base = &url.URL{Scheme: "https", Host: "localhost"}
		}
		article, err := readability.FromReader(strings.NewReader(body), base)
		if err != nil {
			return "", fmt.Errorf("parse html: %w", err)
		}
		var builder strings.Builder
		if err := article.RenderText(&builder); err != nil {
			return "", fmt.Errorf("render article text: %w", err)
		}
		body = builder.String()
	}
	return normalizeWhitespace(body), nil
}

var exoticSpaces = strings.NewReplacer(
	" ", " ", // no-break space
	" ", " ", // thin space
	" ", " ",
	" ", "\n",
	" ", "\n",
	"\uFEFF", "",
)

var spaceRunRe = regexp.MustCompile(`[ \t]+`)
var blankLineRe = regexp.MustCompile(`\n{3,}`)

func normalizeWhitespace(text string) string {
	text = exoticSpaces.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = blankLineRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
