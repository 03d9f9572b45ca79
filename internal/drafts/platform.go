package drafts

import (
	"fmt"
	"sort"
	"strings"
)

// Platform is an outreach channel with its own folder under the outreach base.
type Platform string

const (
	Reddit    Platform = "reddit"
	X         Platform = "x"
	Instagram Platform = "instagram"
	TikTok    Platform = "tiktok"
)

// AllPlatforms in display order.
var AllPlatforms = []Platform{Reddit, X, Instagram, TikTok}

// titlePrefixes are the label prefixes drafting agents put in front of the
// H1 title. Matched case-insensitively, longest first.
var titlePrefixes = map[Platform][]string{
	Reddit:    {"Reddit Comment:", "Reddit Reply:", "Reddit Post:"},
	X:         {"X Thread:", "X Reply:", "X Post:", "Tweet:"},
	Instagram: {"Instagram Carousel:", "Instagram Reel:", "Instagram Post:", "IG Post:"},
	TikTok:    {"TikTok Video:", "TikTok Post:"},
}

func init() {
	for _, prefixes := range titlePrefixes {
		longestFirst(prefixes)
	}
}

func longestFirst(prefixes []string) {
	sort.SliceStable(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
}

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllPlatforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

// ParsePlatforms validates a configured platform list, dropping duplicates.
func ParsePlatforms(names []string) ([]Platform, error) {
	seen := make(map[Platform]bool, len(names))
	out := make([]Platform, 0, len(names))
	for _, n := range names {
		p, err := ParsePlatform(n)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// usesURLTarget reports whether the platform's targetRef is a **URL:** marker
// rather than a **Type:** tag.
func (p Platform) usesURLTarget() bool {
	return p == Reddit || p == X
}

// stripTitlePrefix removes a platform label prefix such as "Reddit Comment:".
func (p Platform) stripTitlePrefix(title string) string {
	for _, prefix := range titlePrefixes[p] {
		if len(title) >= len(prefix) && strings.EqualFold(title[:len(prefix)], prefix) {
			return strings.TrimSpace(title[len(prefix):])
		}
	}
	return title
}
