// Package preview renders draft text to HTML for the dashboard.
package preview

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

// Raw HTML in drafts is dropped by goldmark's default renderer, so previews
// never execute draft-supplied markup.
var engine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
		extension.Strikethrough,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
	),
)

// Render converts markdown to HTML. On a renderer error the text comes back
// escaped.
func Render(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	var out bytes.Buffer
	if err := engine.Convert([]byte(text), &out); err != nil {
		return template.HTMLEscapeString(text)
	}
	return out.String()
}

// Draft fills BodyHTML and CaptionHTML.
func Draft(d *drafts.Draft) {
	d.BodyHTML = Render(d.Body)
	d.CaptionHTML = Render(d.Caption)
}

// Listing returns a copy of l with previews rendered. l is not modified, so
// a cached listing stays free of HTML.
func Listing(l *drafts.Listing) *drafts.Listing {
	out := *l
	out.Drafts = make([]drafts.Draft, len(l.Drafts))
	for i, d := range l.Drafts {
		Draft(&d)
		out.Drafts[i] = d
	}
	return &out
}
