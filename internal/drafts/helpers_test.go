package drafts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeDraft writes <base>/<platform>/<state dir>/<fileID>.md with the given
// mtime and returns its path.
func writeDraft(t *testing.T, base string, p Platform, st State, fileID, content string, mtime time.Time) string {
	t.Helper()
	dir := filepath.Join(base, string(p), st.dir())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, fileID+".md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	return path
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

const redditDraft = `# Reddit Comment: Why Go for CLIs

**URL:** https://www.reddit.com/r/golang/comments/abc123/why_go/
**Created:** 2025-02-28

## Context
Someone asked about static binaries.

## Comment Draft
Single **static** binaries are *great* for distribution.

Cross-compiling is one env var away.

---

**Value delivered:** practical tip
`
