package cleaner

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// removeTags drops every element named in tags, with its subtree, and
// renders what remains of the document.
func removeTags(rawHTML string, tags []string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}

	stripNode(doc, tags)
	return renderNode(doc)
}

func stripNode(n *html.Node, tags []string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && slices.Contains(tags, c.Data) {
			n.RemoveChild(c)
		} else {
			stripNode(c, tags)
		}
		c = next
	}
}

func renderNode(n *html.Node) (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return "", err
	}
	return sb.String(), nil
}
