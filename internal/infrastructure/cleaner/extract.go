package cleaner

import (
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	trafilatura "github.com/markusmobius/go-trafilatura"
)

func parsePageURL(pageURL string) *url.URL {
	if pageURL == "" {
		return nil
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	return u
}

func extractReadable(rawHTML, pageURL string) (string, error) {
	u := parsePageURL(pageURL)
	if u == nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), u)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return article.Content, nil
}

// extractFullText keeps comments and tables; both are included by the
// zero-value options.
func extractFullText(rawHTML, pageURL string) (string, error) {
	result, err := trafilatura.Extract(strings.NewReader(rawHTML), trafilatura.Options{
		OriginalURL:    parsePageURL(pageURL),
		IncludeLinks:   true,
		EnableFallback: true,
	})
	if err != nil {
		return "", fmt.Errorf("trafilatura: %w", err)
	}
	return renderExtract(result)
}

// renderExtract returns "" when nothing was extracted so the fetcher treats
// the page as empty and retries it.
func renderExtract(result *trafilatura.ExtractResult) (string, error) {
	if result == nil || result.ContentNode == nil {
		return "", nil
	}

	out, err := renderNode(result.ContentNode)
	if err != nil {
		return "", err
	}
	if result.CommentsNode != nil {
		comments, err := renderNode(result.CommentsNode)
		if err != nil {
			return "", err
		}
		out += comments
	}
	return out, nil
}
