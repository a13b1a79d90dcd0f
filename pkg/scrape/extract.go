package scrape

import (
	"io"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/3leaps/quickcast/pkg/podcast"
)

// DefaultTitle is used when a page exposes no usable title.
const DefaultTitle = "Untitled Article"

var (
	// ErrNoContent is returned when no readable text could be extracted.
	ErrNoContent = errors.New("could not extract meaningful content from the page")

	excessNewlines = regexp.MustCompile(`\n{3,}`)

	stripped = map[atom.Atom]bool{
		atom.Script: true, atom.Style: true, atom.Nav: true, atom.Header: true,
		atom.Footer: true, atom.Aside: true, atom.Iframe: true, atom.Form: true,
	}
)

// Extract parses an HTML document and returns its title, author and body
// text. The URL field of the result is left empty.
func Extract(r io.Reader) (*podcast.Article, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}

	art := &podcast.Article{
		Title:  extractTitle(doc),
		Author: extractAuthor(doc),
	}

	removeNodes(doc)
	art.Content = extractContent(doc)
	if art.Content == "" {
		return nil, ErrNoContent
	}
	return art, nil
}

func extractTitle(doc *html.Node) string {
	if n := find(doc, isElement(atom.H1)); n != nil {
		if t := textOf(n); t != "" {
			return t
		}
	}
	if n := find(doc, metaWith("property", "og:title")); n != nil {
		return attr(n, "content")
	}
	if n := find(doc, metaWith("name", "twitter:title")); n != nil {
		return attr(n, "content")
	}
	if n := find(doc, isElement(atom.Title)); n != nil {
		if t := textOf(n); t != "" {
			return t
		}
	}
	return DefaultTitle
}

func extractAuthor(doc *html.Node) string {
	if n := find(doc, metaWith("name", "author")); n != nil {
		return strings.TrimSpace(attr(n, "content"))
	}
	if n := find(doc, metaWith("property", "article:author")); n != nil {
		return strings.TrimSpace(attr(n, "content"))
	}
	if n := find(doc, withClass(atom.Span, "author")); n != nil {
		return textOf(n)
	}
	if n := find(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.A && hasToken(attr(n, "rel"), "author")
	}); n != nil {
		return textOf(n)
	}
	return ""
}

func extractContent(doc *html.Node) string {
	candidates := []func(*html.Node) bool{
		isElement(atom.Article),
		withClass(atom.Div, "article-content"),
		withClass(atom.Div, "post-content"),
		withClass(atom.Div, "entry-content"),
		isElement(atom.Main),
		func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.DataAtom == atom.Div && attr(n, "id") == "content"
		},
		isElement(atom.Body),
	}

	var root *html.Node
	for _, match := range candidates {
		if root = find(doc, match); root != nil {
			break
		}
	}
	if root == nil {
		return ""
	}

	var parts []string
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		collect(c, &parts)
	}

	text := strings.Join(parts, "\n\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// collect appends the readable blocks under n in document order.
func collect(n *html.Node, parts *[]string) {
	if n.Type != html.ElementNode {
		return
	}

	switch n.DataAtom {
	case atom.P:
		if t := textOf(n); t != "" {
			*parts = append(*parts, t)
		}
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		if t := textOf(n); t != "" {
			*parts = append(*parts, "\n"+t+"\n")
		}
	case atom.Blockquote:
		if t := textOf(n); t != "" {
			*parts = append(*parts, `"`+t+`"`)
		}
	case atom.Ul, atom.Ol:
		for li := n.FirstChild; li != nil; li = li.NextSibling {
			if li.Type == html.ElementNode && li.DataAtom == atom.Li {
				if t := textOf(li); t != "" {
					*parts = append(*parts, "- "+t)
				}
			}
		}
	case atom.Figure:
		if img := find(n, isElement(atom.Img)); img != nil {
			if alt := strings.TrimSpace(attr(img, "alt")); len(alt) > 5 {
				*parts = append(*parts, "[Image: "+alt+"]")
			}
		}
		if caption := find(n, isElement(atom.Figcaption)); caption != nil {
			if t := textOf(caption); t != "" {
				*parts = append(*parts, "[Caption: "+t+"]")
			}
		}
	case atom.Img:
		if alt := strings.TrimSpace(attr(n, "alt")); len(alt) > 5 {
			*parts = append(*parts, "[Image: "+alt+"]")
		}
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c, parts)
		}
	}
}

// removeNodes detaches page chrome and scripts from the tree.
func removeNodes(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && stripped[c.DataAtom] {
			n.RemoveChild(c)
		} else {
			removeNodes(c)
		}
		c = next
	}
}

// find returns the first node in document order satisfying match.
func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func isElement(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a
	}
}

func withClass(a atom.Atom, class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a && hasToken(attr(n, "class"), class)
	}
}

func metaWith(key, value string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Meta && attr(n, key) == value
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

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

// textOf returns the text under n with runs of whitespace collapsed.
func textOf(n *html.Node) string {
	var fields []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			fields = append(fields, strings.Fields(n.Data)...)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(fields, " ")
}
