package docparse

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hiddenStylePatterns match inline styles that make an element invisible.
// Hidden text is a classic injection vector (SEO spam, prompt injection)
// and must not survive into the Markdown output.
var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
	regexp.MustCompile(`(?i)position\s*:\s*absolute[^;]*-\d{4,}`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

// htmlBody reads an HTML file and returns its body markup with boilerplate
// and hidden elements stripped. The output is fed to the Markdown renderer,
// which expects structured HTML, so the DOM is pruned rather than flattened
// to text.
func htmlBody(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	root := findBody(doc)
	if root == nil {
		root = doc
	}
	prune(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// prune removes boilerplate and hidden subtrees in place.
func prune(n *html.Node) {
	var drop []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if shouldDrop(c) {
			drop = append(drop, c)
			continue
		}
		prune(c)
	}
	for _, c := range drop {
		n.RemoveChild(c)
	}
}

func shouldDrop(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Header:
		return true
	}
	return hasHiddenStyle(n)
}
