package telegram

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// Tags Telegram accepts in HTML parse mode, apart from <a>.
var keptTags = map[string]bool{
	"b": true, "strong": true,
	"i": true, "em": true,
	"u": true, "ins": true,
	"s": true, "strike": true, "del": true,
	"code": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "ul": true, "ol": true, "table": true, "tr": true,
}

var headingTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// maxMessageLength is the Bot API limit on message text after entities are
// parsed, in UTF-16 code units.
const maxMessageLength = 4096

// fitMessage returns text unchanged when its visible part fits in one
// message. Longer text is cut at the limit and sent without markup, since a
// cut could leave a tag open.
func fitMessage(text string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	visible := strings.TrimSpace(doc.Text())
	if utf16Len(visible) <= maxMessageLength {
		return text, nil
	}
	return escapeText(truncateUTF16(visible, maxMessageLength-1) + "…"), nil
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16Width(r)
	}
	return n
}

func truncateUTF16(s string, limit int) string {
	n := 0
	for i, r := range s {
		n += utf16Width(r)
		if n > limit {
			return s[:i]
		}
	}
	return s
}

func utf16Width(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// TelegramHTML reduces an HTML fragment to the subset Telegram renders.
// Unsupported elements are replaced by their text, paragraphs and line
// breaks become newlines, and list items are bulleted.
func TelegramHTML(src string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	w := &tgWriter{}
	w.children(doc.Find("body"))
	return strings.TrimSpace(w.buf.String()), nil
}

type tgWriter struct {
	buf   bytes.Buffer
	inPre bool
	// blockStart is the offset where the innermost open block's content begins.
	blockStart int
}

func (w *tgWriter) children(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		w.node(c)
	})
}

func (w *tgWriter) node(sel *goquery.Selection) {
	name := goquery.NodeName(sel)
	switch {
	case name == "#text":
		w.text(sel.Text())
	case name == "br":
		w.newlines(1)
	case name == "hr":
		w.newlines(2)
	case name == "a":
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			w.children(sel)
			return
		}
		fmt.Fprintf(&w.buf, `<a href="%s">`, attrEscaper.Replace(href))
		w.children(sel)
		w.buf.WriteString("</a>")
	case name == "img":
		if alt, _ := sel.Attr("alt"); alt != "" {
			w.text(alt)
		}
	case name == "li":
		w.newlines(1)
		w.buf.WriteString("• ")
		w.children(sel)
		w.newlines(1)
	case name == "pre":
		w.newlines(2)
		w.buf.WriteString("<pre>")
		w.inPre = true
		w.children(sel)
		w.inPre = false
		w.buf.WriteString("</pre>")
		w.newlines(2)
	case name == "blockquote":
		w.newlines(2)
		w.buf.WriteString("<blockquote>")
		outer := w.blockStart
		w.blockStart = w.buf.Len()
		w.children(sel)
		w.trimTrailing()
		w.buf.WriteString("</blockquote>")
		w.blockStart = outer
		w.newlines(2)
	case headingTags[name]:
		w.newlines(2)
		w.buf.WriteString("<b>")
		w.children(sel)
		w.buf.WriteString("</b>")
		w.newlines(2)
	case keptTags[name]:
		fmt.Fprintf(&w.buf, "<%s>", name)
		w.children(sel)
		fmt.Fprintf(&w.buf, "</%s>", name)
	case blockTags[name]:
		w.newlines(2)
		w.children(sel)
		w.newlines(2)
	case name == "#comment", name == "script", name == "style":
	default:
		w.children(sel)
	}
}

func (w *tgWriter) text(s string) {
	if !w.inPre {
		s = collapseSpace(s)
		if w.atLineStart() || w.endsWith(' ') {
			s = strings.TrimLeft(s, " ")
		}
	}
	if s == "" {
		return
	}
	w.buf.WriteString(escapeText(s))
}

// newlines ends the current line and makes sure at least n line breaks
// precede the next content. Nothing is written at the start of the output.
func (w *tgWriter) newlines(n int) {
	if w.inPre {
		w.buf.WriteString(strings.Repeat("\n", n))
		return
	}
	w.trimSpaces()
	if w.buf.Len() == w.blockStart {
		return
	}
	b := w.buf.Bytes()
	have := 0
	for i := len(b) - 1; i >= 0 && b[i] == '\n'; i-- {
		have++
	}
	if n > have {
		w.buf.WriteString(strings.Repeat("\n", n-have))
	}
}

func (w *tgWriter) trimSpaces() {
	b := w.buf.Bytes()
	n := len(b)
	for n > 0 && b[n-1] == ' ' {
		n--
	}
	w.buf.Truncate(n)
}

func (w *tgWriter) trimTrailing() {
	b := w.buf.Bytes()
	n := len(b)
	for n > 0 && (b[n-1] == ' ' || b[n-1] == '\n') {
		n--
	}
	w.buf.Truncate(n)
}

func (w *tgWriter) atLineStart() bool {
	return w.buf.Len() == w.blockStart || w.endsWith('\n')
}

func (w *tgWriter) endsWith(c byte) bool {
	b := w.buf.Bytes()
	return len(b) > 0 && b[len(b)-1] == c
}

// collapseSpace replaces every run of whitespace with a single space.
func collapseSpace(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	if space {
		b.WriteByte(' ')
	}
	return b.String()
}
