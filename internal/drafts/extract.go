package drafts

import (
	"regexp"
	"strings"
	"time"

	"github.com/clawdops/outreach-desk/internal/schedule"
)

// Extractor turns draft markdown into a Draft. It never fails: every field
// falls back to its zero value when the text does not carry it.
type Extractor struct {
	// WorkspaceRoot bounds which directories an Assets section may list.
	WorkspaceRoot string
	Location      *time.Location
	Now           func() time.Time
}

func NewExtractor(workspaceRoot string, loc *time.Location) *Extractor {
	return &Extractor{WorkspaceRoot: workspaceRoot, Location: loc, Now: time.Now}
}

// sectionRule maps a field to the headings that may introduce it. The first
// heading in the list that appears in the draft wins.
type sectionRule struct {
	field    string
	headings []string
	strip    bool
	assign   func(e *Extractor, d *Draft, content string)
}

var sectionRules = []sectionRule{
	{
		field:    "body",
		headings: []string{"Comment Draft", "Reply", "Content"},
		strip:    true,
		assign:   func(_ *Extractor, d *Draft, v string) { d.Body = v },
	},
	{
		field:    "caption",
		headings: []string{"Caption"},
		assign:   func(_ *Extractor, d *Draft, v string) { d.Caption = v },
	},
	{
		field:    "hashtags",
		headings: []string{"Hashtags"},
		assign:   func(_ *Extractor, d *Draft, v string) { d.Hashtags = v },
	},
	{
		field:    "assets",
		headings: []string{"Assets"},
		assign:   func(e *Extractor, d *Draft, v string) { d.Assets = e.resolveAssets(v) },
	},
}

var (
	headingRe      = regexp.MustCompile(`^#{1,6}[ \t]+(.*?)[ \t#]*$`)
	h1Re           = regexp.MustCompile(`^#[ \t]+(.+?)[ \t]*$`)
	dividerRe      = regexp.MustCompile(`^[ \t]*-{3,}[ \t]*$`)
	boldMarkerRe   = regexp.MustCompile(`^[ \t]*\*\*[^*\n]+?(?::\*\*|\*\*:)`)
	urlMarkerRe    = regexp.MustCompile(`\*\*URL:\*\*[ \t]*(https?://[^\s)>\]]+)`)
	typeMarkerRe   = regexp.MustCompile(`(?m)^[ \t]*\*\*Type:\*\*[ \t]*(.+?)[ \t]*$`)
	schedMarkerRe  = regexp.MustCompile(`(?m)^[ \t]*\*\*Scheduled:\*\*[ \t]*(.*?)[ \t\r]*$`)
	subredditRe    = regexp.MustCompile(`\br/(\w+)`)
	handleRe       = regexp.MustCompile(`(?:^|[^\w/.@])@(\w+)`)
	statusAuthorRe = regexp.MustCompile(`(?:x|twitter)\.com/(\w+)/status/`)
	boldRe         = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe       = regexp.MustCompile(`\*([^*\n]+)\*`)
)

// Extract builds the Draft for a pending file. modTime becomes CreatedAt.
func (e *Extractor) Extract(p Platform, fileID string, raw []byte, modTime time.Time) Draft {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	d := Draft{
		ID:        ID{Platform: p, FileID: fileID}.String(),
		Platform:  p,
		FileID:    fileID,
		State:     Pending,
		Title:     extractTitle(p, lines, fileID),
		Assets:    []string{},
		CreatedAt: modTime,
	}

	d.TargetRef, d.Label = extractTarget(p, text)

	for _, rule := range sectionRules {
		section, ok := findSection(lines, rule.headings)
		if !ok {
			continue
		}
		if rule.strip {
			section = stripEmphasis(section)
		}
		rule.assign(e, &d, section)
	}

	e.applySchedule(&d, text)
	return d
}

func extractTitle(p Platform, lines []string, fileID string) string {
	for _, line := range lines {
		m := h1Re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if title := p.stripTitlePrefix(strings.TrimSpace(m[1])); title != "" {
			return title
		}
		break
	}
	return fileID
}

func extractTarget(p Platform, text string) (targetRef, label string) {
	if p.usesURLTarget() {
		if m := urlMarkerRe.FindStringSubmatch(text); m != nil {
			targetRef = strings.TrimRight(m[1], ".,;:")
		}
	}

	switch p {
	case Reddit:
		if m := subredditRe.FindStringSubmatch(text); m != nil {
			label = "r/" + m[1]
		}
	case X:
		if m := handleRe.FindStringSubmatch(text); m != nil {
			label = "@" + m[1]
		} else if m := statusAuthorRe.FindStringSubmatch(targetRef); m != nil {
			label = "@" + m[1]
		}
	case Instagram, TikTok:
		label = "post"
		if m := typeMarkerRe.FindStringSubmatch(text); m != nil {
			targetRef = strings.TrimSpace(m[1])
			label = targetRef
		}
	}
	return targetRef, label
}

// findSection returns the content under the first heading (in candidate order)
// present in lines. Content stops at a --- divider, a **Label:** marker line,
// the next heading, or the end of the text.
func findSection(lines []string, candidates []string) (string, bool) {
	for _, want := range candidates {
		for i, line := range lines {
			m := headingRe.FindStringSubmatch(line)
			if m == nil || !headingMatches(m[1], want) {
				continue
			}
			var buf []string
			for _, next := range lines[i+1:] {
				if dividerRe.MatchString(next) || boldMarkerRe.MatchString(next) || headingRe.MatchString(next) {
					break
				}
				buf = append(buf, next)
			}
			return strings.TrimSpace(strings.Join(buf, "\n")), true
		}
	}
	return "", false
}

// headingMatches accepts "Reply", "Reply:" and "Reply (thread)" for "Reply".
func headingMatches(heading, want string) bool {
	h := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(heading), ":"))
	if strings.EqualFold(h, want) {
		return true
	}
	if len(h) <= len(want) || !strings.EqualFold(h[:len(want)], want) {
		return false
	}
	switch h[len(want)] {
	case ' ', '(', ':', '-':
		return true
	}
	return false
}

func stripEmphasis(s string) string {
	s = boldRe.ReplaceAllString(s, "$1")
	return italicRe.ReplaceAllString(s, "$1")
}

var scheduleLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseScheduleValue parses a **Scheduled:** value. Values without a zone are
// read in loc.
func ParseScheduleValue(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (e *Extractor) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return schedule.LoadLocation("")
}

func (e *Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Extractor) applySchedule(d *Draft, text string) {
	if m := schedMarkerRe.FindStringSubmatch(text); m != nil {
		if t, ok := ParseScheduleValue(m[1], e.location()); ok {
			d.ScheduledTime = &t
			d.ScheduledLabel = m[1]
			return
		}
	}
	if d.Platform != X {
		return
	}
	s := schedule.Next(e.now(), e.location())
	d.ScheduledTime = &s.Time
	d.ScheduledLabel = s.Label
	d.ScheduleSuggested = true
}
