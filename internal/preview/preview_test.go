package preview

import (
	"testing"

	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	assert.Equal(t, "", Render("  \n"))

	html := Render("line one\nline two with https://go.dev")
	assert.Contains(t, html, "<br>")
	assert.Contains(t, html, `<a href="https://go.dev">https://go.dev</a>`)

	assert.Contains(t, Render("~~old~~ new"), "<del>old</del>")
}

func TestRenderDropsRawHTML(t *testing.T) {
	html := Render("hello <script>alert(1)</script>")
	assert.NotContains(t, html, "<script>")
}

func TestListingLeavesSourceUntouched(t *testing.T) {
	src := &drafts.Listing{Drafts: []drafts.Draft{
		{ID: "x:a", Body: "*hi*"},
		{ID: "instagram:b", Caption: "cap"},
	}}

	out := Listing(src)

	assert.Empty(t, src.Drafts[0].BodyHTML)
	assert.Equal(t, "<p><em>hi</em></p>\n", out.Drafts[0].BodyHTML)
	assert.Empty(t, out.Drafts[1].BodyHTML)
	assert.Equal(t, "<p>cap</p>\n", out.Drafts[1].CaptionHTML)
}
