package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainText passes UTF-8 text through, normalising line endings.
type PlainText struct{}

// Extract implements Extractor.
func (PlainText) Extract(_ context.Context, src Source) (string, error) {
	return decodeText(src.Content), nil
}

func decodeText(b []byte) string {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	s := string(b)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return strings.ReplaceAll(s, "\r\n", "\n")
}

var (
	mdCodeFence  = regexp.MustCompile("(?m)^```.*$")
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis   = regexp.MustCompile(`(^|[^\w])(\*\*|__|\*|_)([^*_\n]+)(\*\*|__|\*|_)`)
	mdQuote      = regexp.MustCompile(`(?m)^>\s?`)
	mdRule       = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	mdBullet     = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	mdNumbered   = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`)
	manyNewlines = regexp.MustCompile(`\n{3,}`)
)

// Markdown strips markup but keeps code block bodies, link text and image alt text.
type Markdown struct{}

// Extract implements Extractor.
func (Markdown) Extract(_ context.Context, src Source) (string, error) {
	s := decodeText(src.Content)
	s = mdCodeFence.ReplaceAllString(s, "")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "$1$3")
	s = mdQuote.ReplaceAllString(s, "")
	s = mdRule.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdNumbered.ReplaceAllString(s, "")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s), nil
}

var spaceRun = regexp.MustCompile(`[ \t]+`)

// htmlSkipped are removed with everything inside them before text is read.
const htmlSkipped = "head, script, style, noscript, svg, template, iframe"

var htmlBlocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Tr: true, atom.Td: true, atom.Th: true, atom.Blockquote: true, atom.Pre: true,
	atom.Table: true, atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Ul: true, atom.Ol: true, atom.Dt: true, atom.Dd: true, atom.Figcaption: true,
}

// HTML parses the page and keeps the text of the visible elements, one
// line per block element.
type HTML struct{}

// Extract implements Extractor.
func (HTML) Extract(_ context.Context, src Source) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(decodeText(src.Content)))
	if err != nil {
		return "", err
	}
	doc.Find(htmlSkipped).Remove()

	var b strings.Builder
	for _, n := range doc.Nodes {
		writeHTMLText(&b, n)
	}

	s := strings.ReplaceAll(b.String(), "\u00a0", " ")
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

func writeHTMLText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		return
	case html.CommentNode, html.DoctypeNode:
		return
	}
	block := n.Type == html.ElementNode && htmlBlocks[n.DataAtom]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeHTMLText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

// JSON re-indents a JSON document so its keys and values are searchable text.
type JSON struct{}

// Extract implements Extractor.
func (JSON) Extract(_ context.Context, src Source) (string, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(src.Content), "", "  "); err != nil {
		return "", err
	}
	return out.String(), nil
}
