package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Iframe:   true,
	atom.Template: true,
	atom.Head:     true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Header: true, atom.Aside: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Table: true, atom.Tr: true, atom.Blockquote: true, atom.Pre: true,
	atom.Figure: true, atom.Figcaption: true, atom.Br: true, atom.Hr: true, atom.Form: true,
}

var headingElements = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

func parseHTML(body []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}

// GenericHTML extracts the readable text of a page, with a paragraph break
// around every block element.
func GenericHTML(ctx context.Context, src Source) (*Document, error) {
	doc, err := parseHTML(src.Body)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	writeReadable(&sb, contentRoot(doc))
	return &Document{Title: pageTitle(doc), Content: collapseParagraphs(sb.String())}, nil
}

// StructuredCatalogHTML extracts one paragraph per catalog item: articles,
// microdata items, list items with a heading, definition pairs and table
// rows. Pages without such items fall back to GenericHTML.
func StructuredCatalogHTML(ctx context.Context, src Source) (*Document, error) {
	doc, err := parseHTML(src.Body)
	if err != nil {
		return nil, err
	}

	var items []string
	collectItems(contentRoot(doc), &items)
	if len(items) == 0 {
		return GenericHTML(ctx, src)
	}
	return &Document{Title: pageTitle(doc), Content: strings.Join(items, "\n\n")}, nil
}

func collectItems(n *html.Node, items *[]string) {
	if n.Type == html.ElementNode {
		if skippedElements[n.DataAtom] {
			return
		}
		switch {
		case n.DataAtom == atom.Article, hasAttr(n, "itemscope"):
			appendItem(items, inlineText(n))
			return
		case n.DataAtom == atom.Li && containsHeading(n):
			appendItem(items, inlineText(n))
			return
		case n.DataAtom == atom.Dl:
			for _, pair := range definitionPairs(n) {
				appendItem(items, pair)
			}
			return
		case n.DataAtom == atom.Tr:
			appendItem(items, tableRow(n))
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectItems(c, items)
	}
}

func appendItem(items *[]string, text string) {
	if text = strings.TrimSpace(text); text != "" {
		*items = append(*items, text)
	}
}

func definitionPairs(dl *html.Node) []string {
	var pairs []string
	var term string
	for c := dl.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Dt:
			if term != "" {
				pairs = append(pairs, term)
			}
			term = inlineText(c)
		case atom.Dd:
			def := inlineText(c)
			if term != "" {
				pairs = append(pairs, term+": "+def)
				term = ""
			} else {
				pairs = append(pairs, def)
			}
		}
	}
	if term != "" {
		pairs = append(pairs, term)
	}
	return pairs
}

func tableRow(tr *html.Node) string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			if text := inlineText(c); text != "" {
				cells = append(cells, text)
			}
		}
	}
	return strings.Join(cells, " | ")
}

func containsHeading(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (headingElements[c.DataAtom] || containsHeading(c)) {
			return true
		}
	}
	return false
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// contentRoot returns <body> when present.
func contentRoot(doc *html.Node) *html.Node {
	if body := findFirst(doc, atom.Body); body != nil {
		return body
	}
	return doc
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// pageTitle is <title>, else the first <h1>, else the default title.
func pageTitle(doc *html.Node) string {
	if t := findFirst(doc, atom.Title); t != nil {
		if text := inlineText(t); text != "" {
			return text
		}
	}
	if h := findFirst(doc, atom.H1); h != nil {
		if text := inlineText(h); text != "" {
			return text
		}
	}
	return domain.DefaultTitle
}

func writeReadable(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedElements[n.DataAtom] {
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		sb.WriteString("\n\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeReadable(sb, c)
	}
	if block {
		sb.WriteString("\n\n")
	}
}

// inlineText is the text under n with whitespace collapsed to single spaces.
func inlineText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && skippedElements[n.DataAtom] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// collapseParagraphs keeps paragraph breaks and collapses all other
// whitespace.
func collapseParagraphs(s string) string {
	parts := strings.Split(s, "\n\n")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
