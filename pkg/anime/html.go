package anime

import (
	"strings"

	"golang.org/x/net/html"
)

// findAll returns the descendants of n, in document order, that match.
func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var res []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			res = append(res, c)
		}
		res = append(res, findAll(c, match)...)
	}

	return res
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}

	return nil
}

// element matches tag elements carrying every class given.
func element(tag string, classes ...string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != tag {
			return false
		}

		have := strings.Fields(attr(n, "class"))
		for _, want := range classes {
			found := false
			for _, c := range have {
				if c == want {
					found = true

					break
				}
			}
			if !found {
				return false
			}
		}

		return true
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

func textContent(n *html.Node) string {
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return sb.String()
}
