package duckduckgo

import (
	"io"
	"net/url"
	"strings"

	"search-agent/internal/domain/entity"

	"golang.org/x/net/html"
)

// parseLite reads the lite layout: result links carry class "result-link"
// and each is followed by a td of class "result-snippet".
func parseLite(r io.Reader) ([]entity.SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []entity.SearchResult
	walk(doc, func(n *html.Node) {
		switch {
		case n.Data == "a" && hasClass(n, "result-link"):
			href := resolveHref(attr(n, "href"))
			if href == "" {
				return
			}
			results = append(results, entity.SearchResult{Href: href, Title: textOf(n)})
		case n.Data == "td" && hasClass(n, "result-snippet"):
			if len(results) > 0 && results[len(results)-1].Snippet == "" {
				results[len(results)-1].Snippet = textOf(n)
			}
		}
	})
	return results, nil
}

// parseHTML reads the html layout: "result__a" links and "result__snippet"
// elements. Ads are skipped.
func parseHTML(r io.Reader) ([]entity.SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []entity.SearchResult
	walk(doc, func(n *html.Node) {
		switch {
		case n.Data == "a" && hasClass(n, "result__a"):
			href := resolveHref(attr(n, "href"))
			if href == "" {
				return
			}
			results = append(results, entity.SearchResult{Href: href, Title: textOf(n)})
		case hasClass(n, "result__snippet"):
			if len(results) > 0 && results[len(results)-1].Snippet == "" {
				results[len(results)-1].Snippet = textOf(n)
			}
		}
	})
	return results, nil
}

func walk(n *html.Node, visit func(*html.Node)) {
	if n.Type == html.ElementNode {
		visit(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// resolveHref unwraps DuckDuckGo redirect links (/l/?uddg=<target>) and
// drops ad links.
func resolveHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") {
		if u.Path == "/y.js" {
			return ""
		}
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}
