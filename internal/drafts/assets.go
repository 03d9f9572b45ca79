package drafts

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	// path-looking tokens: absolute or home-relative, stopping at whitespace,
	// quotes, brackets and markdown code ticks
	pathTokenRe = regexp.MustCompile("(?:~/|/)[^\\s`'\"()<>\\[\\]]+")

	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}
	mediaExts = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
		".webp": true, ".mp4": true, ".mov": true,
	}
)

// resolveAssets scans an Assets section. The first existing directory under
// the workspace root contributes its images in sorted order; literal media file
// paths follow in order of appearance. Only existing files are kept and no
// path appears twice.
func (e *Extractor) resolveAssets(section string) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	tokens := pathTokenRe.FindAllString(section, -1)
	paths := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if p := normalizeAssetPath(tok); p != "" {
			paths = append(paths, p)
		}
	}

	for _, p := range paths {
		if mediaExts[strings.ToLower(filepath.Ext(p))] || !e.underRoot(p) {
			continue
		}
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			continue
		}
		for _, img := range listImages(p) {
			add(img)
		}
		break
	}

	for _, p := range paths {
		if !mediaExts[strings.ToLower(filepath.Ext(p))] {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			add(p)
		}
	}
	return out
}

func normalizeAssetPath(tok string) string {
	tok = strings.TrimRight(tok, ".,;:*_")
	if strings.HasPrefix(tok, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		tok = filepath.Join(home, tok[2:])
	}
	if !filepath.IsAbs(tok) {
		return ""
	}
	return filepath.Clean(tok)
}

func (e *Extractor) underRoot(p string) bool {
	if e.WorkspaceRoot == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(e.WorkspaceRoot), p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// listImages returns the image files directly inside dir, sorted. Anything
// other than an existing directory yields nothing.
func listImages(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}
