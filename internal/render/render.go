// Package render turns feed entries into chat messages.
package render

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"feedbridge/internal/chat"
	"feedbridge/internal/model"
)

const noTitle = "No Title"

// Renderer builds message bodies. It is safe for concurrent use.
type Renderer struct {
	toMarkdown *md.Converter
	markdown   goldmark.Markdown
	maxSummary int
}

// New returns a Renderer. Summaries longer than maxSummary runes are cut;
// zero keeps them whole.
func New(maxSummary int) *Renderer {
	return &Renderer{
		toMarkdown: md.NewConverter("", true, nil),
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		maxSummary: maxSummary,
	}
}

// Markdown returns the message source for an entry:
// the title in bold, the link on its own line, a blank line, the summary.
func (r *Renderer) Markdown(e model.Entry) string {
	title := e.Title
	if title == "" {
		title = noTitle
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n%s", title, e.Link)
	if summary := r.summary(e.Summary); summary != "" {
		b.WriteString("\n\n")
		b.WriteString(summary)
	}
	return b.String()
}

// Message renders an entry as Markdown text plus its HTML form.
func (r *Renderer) Message(e model.Entry) (chat.Message, error) {
	text := r.Markdown(e)

	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(text), &buf); err != nil {
		return chat.Message{}, fmt.Errorf("render markdown: %w", err)
	}
	return chat.Message{
		Text: text,
		HTML: strings.TrimSpace(buf.String()),
	}, nil
}

func (r *Renderer) summary(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	text := raw
	if strings.ContainsAny(raw, "<&") {
		converted, err := r.toMarkdown.ConvertString(raw)
		if err == nil {
			text = strings.TrimSpace(converted)
		}
	}

	if r.maxSummary > 0 {
		runes := []rune(text)
		if len(runes) > r.maxSummary {
			text = strings.TrimSpace(string(runes[:r.maxSummary])) + "..."
		}
	}
	return text
}
