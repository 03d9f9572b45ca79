package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clawdops/outreach-desk/internal/audit"
	"github.com/clawdops/outreach-desk/internal/config"
	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/clawdops/outreach-desk/internal/poster"
	"github.com/clawdops/outreach-desk/pkg/kv/memory"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	callArgs := m.Called(name, args)
	return []byte(callArgs.String(0)), []byte(callArgs.String(1)), callArgs.Error(2)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

const xDraft = `# X Post: launch

**URL:** https://x.com/someone/status/12345
**Created:** 2025-03-01

## Content
Shipping the **desk** today.
`

const redditDraft = `# Reddit Comment: Static binaries

**URL:** https://www.reddit.com/r/golang/comments/abc/static/

## Comment Draft
Go builds static binaries.
`

var xAuthArgs = []string{"--auth-token", "tok", "--ct0", "ct0"}

type fixture struct {
	root     string
	outreach string
	runner   *MockRunner
	audit    *audit.MemoryRepository
	handler  *Handler
	router   chi.Router
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

func newFixture(t *testing.T, readiness map[string]Pinger) *fixture {
	t.Helper()
	root := t.TempDir()
	outreach := filepath.Join(root, "outreach")
	day := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	writeFile(t, filepath.Join(outreach, "x", "drafts", "launch.md"), xDraft, day.Add(time.Hour))
	writeFile(t, filepath.Join(outreach, "reddit", "drafts", "static.md"), redditDraft, day)
	writeFile(t, filepath.Join(outreach, "reddit", "done", "old.md"), "# old", day)
	writeFile(t, filepath.Join(outreach, "x", ".env"), "X_AUTH_TOKEN=tok\nX_CT0=ct0\nX_ACCOUNT=deskbot\n", time.Time{})

	cfg := &config.Config{
		Workspace: config.WorkspaceConfig{
			Root:         root,
			OutreachBase: outreach,
			AssetBases:   []string{filepath.Join(root, "assets")},
		},
		Schedule: config.ScheduleConfig{Timezone: "America/New_York"},
	}

	store := drafts.NewStore(outreach)
	extractor := drafts.NewExtractor(root, cfg.Location())
	svc := drafts.NewService(store, extractor, []drafts.Platform{drafts.Reddit, drafts.X}, nil, 0, nil, nil)

	runner := new(MockRunner)
	p := poster.New(poster.DefaultManifest(), outreach, nil, poster.WithRunner(runner.Run))
	repo := audit.NewMemoryRepository(100)
	mgr := drafts.NewManager(store, nil,
		drafts.WithPoster(p),
		drafts.WithAudit(repo),
		drafts.WithInvalidator(svc),
		drafts.WithExtractor(extractor),
		drafts.WithMarkers(memory.New(0), time.Minute),
	)

	h := NewHandler(svc, mgr, p, repo, nil, nil, readiness, cfg, nil)
	h.now = func() time.Time {
		return time.Date(2025, 3, 3, 19, 30, 0, 0, cfg.Location())
	}

	return &fixture{
		root:     root,
		outreach: outreach,
		runner:   runner,
		audit:    repo,
		handler:  h,
		router: h.Routes(NewMiddleware(nil, nil), RouteConfig{
			CORSOrigins: []string{"http://localhost:5173"},
		}),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(f.outreach, rel))
	return err == nil
}

func TestListDrafts(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/drafts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	listing := decode[drafts.Listing](t, rec)
	require.Len(t, listing.Drafts, 2)
	assert.Equal(t, "x:launch", listing.Drafts[0].ID)
	assert.Equal(t, "reddit:static", listing.Drafts[1].ID)
	assert.Equal(t, 1, listing.Stats[drafts.Reddit].Done)
	assert.Empty(t, listing.Drafts[0].BodyHTML)

	rec = f.do(t, http.MethodGet, "/v1/drafts?platform=reddit&preview=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	listing = decode[drafts.Listing](t, rec)
	require.Len(t, listing.Drafts, 1)
	assert.Contains(t, listing.Drafts[0].BodyHTML, "<p>Go builds static binaries.</p>")
	assert.Len(t, listing.Stats, 1)
}

func TestListDraftsRejectsPlatforms(t *testing.T) {
	f := newFixture(t, nil)

	for _, q := range []string{"myspace", "tiktok"} {
		rec := f.do(t, http.MethodGet, "/v1/drafts?platform="+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, "UNKNOWN_PLATFORM", decode[ErrorResponse](t, rec).Code)
	}
}

func TestGetDraft(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/v1/drafts/x:launch", "/v1/drafts/x%3Alaunch"} {
		rec := f.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		d := decode[DraftDTO](t, rec).Draft
		assert.Equal(t, "launch", d.Title)
		assert.Equal(t, "https://x.com/someone/status/12345", d.TargetRef)
		assert.Equal(t, "Shipping the desk today.", d.Body)
	}

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/v1/drafts/x:missing", http.StatusNotFound, "DRAFT_NOT_FOUND"},
		{"/v1/drafts/nocolon", http.StatusBadRequest, "INVALID_ID"},
		{"/v1/drafts/myspace:a", http.StatusBadRequest, "UNKNOWN_PLATFORM"},
	}
	for _, tt := range tests {
		rec := f.do(t, http.MethodGet, tt.path, "")
		assert.Equal(t, tt.status, rec.Code, tt.path)
		assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code, tt.path)
	}
}

func TestMarkDoneAndDecline(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/drafts/x:launch/done", "", "X-Request-ID", "req-abc")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ActionDTO](t, rec)
	assert.Equal(t, ActionDTO{DraftID: "x:launch", State: "done", RequestID: "req-abc"}, got)
	assert.True(t, f.exists("x/done/launch.md"))
	assert.False(t, f.exists("x/drafts/launch.md"))

	events, err := f.audit.ListByDraft(context.Background(), "x:launch", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "req-abc", events[0].RequestID)
	assert.Equal(t, audit.OutcomeOK, events[0].Outcome)

	rec = f.do(t, http.MethodPost, "/v1/drafts/x:launch/done", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/drafts/reddit:static/decline", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "declined", decode[ActionDTO](t, rec).State)
	assert.True(t, f.exists("reddit/declined/static.md"))

	// the listing sees both moves at once
	listing := decode[drafts.Listing](t, f.do(t, http.MethodGet, "/v1/drafts", ""))
	assert.Empty(t, listing.Drafts)
	assert.Equal(t, 1, listing.Stats[drafts.X].Done)
	assert.Equal(t, 1, listing.Stats[drafts.Reddit].Declined)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"scheduledTime":"2025-03-04T01:00:00Z"}`
	rec := f.do(t, http.MethodPost, "/v1/drafts/x:launch/reschedule", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[RescheduleDTO](t, rec)
	assert.True(t, got.ScheduledTime.Equal(time.Date(2025, 3, 4, 1, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Today 8pm EST", got.ScheduledLabel)

	first, err := os.ReadFile(filepath.Join(f.outreach, "x", "drafts", "launch.md"))
	require.NoError(t, err)
	assert.Contains(t, string(first), "**Scheduled:** 2025-03-04T01:00:00Z")

	rec = f.do(t, http.MethodPost, "/v1/drafts/x:launch/reschedule", body)
	require.Equal(t, http.StatusOK, rec.Code)
	second, err := os.ReadFile(filepath.Join(f.outreach, "x", "drafts", "launch.md"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	d := decode[DraftDTO](t, f.do(t, http.MethodGet, "/v1/drafts/x:launch", "")).Draft
	require.NotNil(t, d.ScheduledTime)
	assert.False(t, d.ScheduleSuggested)
}

func TestRescheduleRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []string{"", `{}`, `{"scheduledTime":"next tuesday"}`, `{"when":"2025-03-04"}`, `not json`} {
		rec := f.do(t, http.MethodPost, "/v1/drafts/x:launch/reschedule", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "INVALID_INPUT", decode[ErrorResponse](t, rec).Code, body)
	}

	rec := f.do(t, http.MethodPost, "/v1/drafts/x:gone/reschedule", `{"scheduledTime":"2025-03-04"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostDraft(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("Run", "bird", append(append([]string{}, xAuthArgs...), "tweet", "Shipping the desk today.")).
		Return("https://x.com/deskbot/status/999", "", nil).Once()

	rec := f.do(t, http.MethodPost, "/v1/drafts/x:launch/post", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[PostDTO](t, rec)
	assert.True(t, got.Posted)
	assert.Equal(t, "x:launch", got.DraftID)
	assert.Equal(t, "https://x.com/deskbot/status/999", got.Output)
	assert.True(t, f.exists("x/done/launch.md"))
	f.runner.AssertExpectations(t)

	events, err := f.audit.ListByDraft(context.Background(), "x:launch", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionPost, events[0].Action)
	assert.Equal(t, "https://x.com/deskbot/status/999", events[0].Detail)
}

func TestPostDraftReplyWithEditedText(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("Run", "bird", append(append([]string{}, xAuthArgs...), "reply", "42", "edited")).
		Return("ok", "", nil).Once()

	rec := f.do(t, http.MethodPost, "/v1/drafts/x:launch/post",
		`{"text":"edited","replyTo":"https://x.com/someone/status/42?s=20"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f.runner.AssertExpectations(t)
}

func TestPostDraftFailures(t *testing.T) {
	t.Run("invalid reply target", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/v1/drafts/x:launch/post", `{"replyTo":"https://x.com/someone"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_TARGET", decode[ErrorResponse](t, rec).Code)
		f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		assert.True(t, f.exists("x/drafts/launch.md"))
	})

	t.Run("external failure keeps the draft pending", func(t *testing.T) {
		f := newFixture(t, nil)
		f.runner.On("Run", "bird", mock.Anything).Return("", "429 too many requests", errors.New("exit status 1")).Once()

		rec := f.do(t, http.MethodPost, "/v1/drafts/x:launch/post", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "EXTERNAL_FAILURE", resp.Code)
		assert.Equal(t, "429 too many requests", resp.Details)
		assert.True(t, f.exists("x/drafts/launch.md"))

		events, err := f.audit.ListByDraft(context.Background(), "x:launch", 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.OutcomeFailed, events[0].Outcome)
	})

	t.Run("platform without a poster", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/v1/drafts/reddit:static/post", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "PLATFORM_NOT_CONFIGURED", decode[ErrorResponse](t, rec).Code)
		assert.True(t, f.exists("reddit/drafts/static.md"))
	})

	t.Run("missing credentials", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, os.Remove(filepath.Join(f.outreach, "x", ".env")))
		rec := f.do(t, http.MethodPost, "/v1/drafts/x:launch/post", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("missing draft", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/v1/drafts/x:nope/post", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPostDraftWithScheduleTimeReschedules(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/drafts/x:launch/post", `{"scheduleTime":"2025-03-05 08:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[PostDTO](t, rec)
	assert.False(t, got.Posted)
	assert.True(t, got.Scheduled)
	require.NotNil(t, got.ScheduledTime)
	assert.True(t, got.ScheduledTime.Equal(time.Date(2025, 3, 5, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Wednesday 8am EST", got.ScheduledLabel)
	assert.True(t, f.exists("x/drafts/launch.md"))
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestHistoryAndAudit(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/drafts/x:launch/decline", "").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/v1/drafts/x:launch/done", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/drafts/reddit:static/done", "").Code)

	hist := decode[HistoryDTO](t, f.do(t, http.MethodGet, "/v1/drafts/x:launch/history", ""))
	assert.Equal(t, "x:launch", hist.DraftID)
	require.Len(t, hist.Events, 2)
	assert.Equal(t, audit.ActionDone, hist.Events[0].Action)
	assert.Equal(t, audit.OutcomeFailed, hist.Events[0].Outcome)
	assert.Equal(t, audit.ActionDecline, hist.Events[1].Action)

	recent := decode[AuditDTO](t, f.do(t, http.MethodGet, "/v1/audit?limit=2", ""))
	assert.Equal(t, 2, recent.Limit)
	require.Len(t, recent.Events, 2)
	assert.Equal(t, "reddit:static", recent.Events[0].DraftID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/audit?limit=abc", "").Code)

	empty := decode[HistoryDTO](t, f.do(t, http.MethodGet, "/v1/drafts/reddit:never/history", ""))
	assert.NotNil(t, empty.Events)
	assert.Empty(t, empty.Events)
}

func TestListPlatforms(t *testing.T) {
	f := newFixture(t, nil)

	got := decode[PlatformsDTO](t, f.do(t, http.MethodGet, "/v1/platforms", ""))
	require.Len(t, got.Platforms, 2)

	reddit, x := got.Platforms[0], got.Platforms[1]
	assert.Equal(t, PlatformDTO{Name: drafts.Reddit, Pending: 1, Done: 1}, reddit)
	assert.Equal(t, PlatformDTO{Name: drafts.X, Pending: 1, CanPost: true, CanReply: true, Configured: true}, x)
}

func TestPlatformCredentials(t *testing.T) {
	f := newFixture(t, nil)

	got := decode[CredentialsDTO](t, f.do(t, http.MethodGet, "/v1/platforms/x/credentials", ""))
	assert.Equal(t, CredentialsDTO{Platform: drafts.X, Configured: true, Account: "deskbot"}, got)

	writeFile(t, filepath.Join(f.outreach, "x", ".env"), "X_AUTH_TOKEN=tok\n", time.Time{})
	got = decode[CredentialsDTO](t, f.do(t, http.MethodGet, "/v1/platforms/x/credentials", ""))
	assert.False(t, got.Configured)
	assert.Empty(t, got.Account)
	assert.Equal(t, []string{"X_CT0"}, got.Missing)

	got = decode[CredentialsDTO](t, f.do(t, http.MethodGet, "/v1/platforms/reddit/credentials", ""))
	assert.False(t, got.Configured)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/platforms/myspace/credentials", "").Code)
}

func TestNextSlot(t *testing.T) {
	f := newFixture(t, nil)

	got := decode[NextSlotDTO](t, f.do(t, http.MethodGet, "/v1/schedule/next?platform=x", ""))
	assert.Equal(t, drafts.X, got.Platform)
	assert.Equal(t, "Today 8pm EST", got.Label)
	assert.Equal(t, "America/New_York", got.Timezone)
	assert.True(t, got.Time.Equal(time.Date(2025, 3, 4, 1, 0, 0, 0, time.UTC)))
}

func TestAssets(t *testing.T) {
	f := newFixture(t, nil)
	dir := filepath.Join(f.root, "assets", "carousel")
	writeFile(t, filepath.Join(dir, "2.png"), "\x89PNG", time.Time{})
	writeFile(t, filepath.Join(dir, "1.JPG"), "jpeg", time.Time{})
	writeFile(t, filepath.Join(dir, "notes.txt"), "x", time.Time{})
	writeFile(t, filepath.Join(f.root, "secret.png"), "x", time.Time{})

	t.Run("list", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/assets?action=list&path="+dir, "")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[AssetListDTO](t, rec)
		require.Len(t, got.Files, 2)
		assert.Equal(t, "1.JPG", got.Files[0].Name)
		assert.Equal(t, filepath.Join(dir, "1.JPG"), got.Files[0].Path)
		assert.True(t, strings.HasPrefix(got.Files[1].URL, "/v1/assets?path="))
	})

	t.Run("list missing dir is empty", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/assets?action=list&path=assets/nothing", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[AssetListDTO](t, rec).Files)
	})

	t.Run("serve", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/assets?path=assets/carousel/2.png", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
		assert.Equal(t, `inline; filename=2.png`, rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "\x89PNG", rec.Body.String())
	})

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing path", "", http.StatusBadRequest},
		{"outside bases", "?path=" + filepath.Join(f.root, "secret.png"), http.StatusForbidden},
		{"traversal", "?path=assets/../secret.png", http.StatusForbidden},
		{"missing file", "?path=assets/carousel/3.png", http.StatusNotFound},
		{"directory", "?path=assets/carousel", http.StatusBadRequest},
		{"bad action", "?path=assets/carousel&action=delete", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, f.do(t, http.MethodGet, "/v1/assets"+tt.query, "").Code)
		})
	}
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, map[string]Pinger{"cache": stubPinger{}})
	rec := f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[HealthDTO](t, rec).Status)

	f = newFixture(t, map[string]Pinger{"audit": stubPinger{err: errors.New("db down")}})
	rec = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, []string{"audit: db down"}, decode[HealthDTO](t, rec).Reasons)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ping", "").Code)
}

func TestReadyzMissingOutreachBase(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.RemoveAll(f.outreach))

	rec := f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	reasons := decode[HealthDTO](t, rec).Reasons
	require.Len(t, reasons, 1)
	assert.True(t, strings.HasPrefix(reasons[0], "drafts: outreach base"), reasons[0])

	// listing still degrades to empty
	rec = f.do(t, http.MethodGet, "/v1/drafts", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/healthz", "", "X-Request-ID", "trace-123")
	assert.Equal(t, "trace-123", rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/healthz", "", "X-Request-ID", "bad id with spaces")
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestCompressesJSON(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/drafts", "", "Accept-Encoding", "gzip")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var listing drafts.Listing
	require.NoError(t, json.NewDecoder(zr).Decode(&listing))
	assert.Len(t, listing.Drafts, 2)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodOptions, "/v1/drafts/x:launch/done", "",
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", "POST")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodGet, "/v1/drafts", "", "Origin", "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	router := f.handler.Routes(NewMiddleware(nil, nil), RouteConfig{RateLimitRPM: 6})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{drafts.ErrNotFound, http.StatusNotFound, "DRAFT_NOT_FOUND"},
		{drafts.ErrPostInFlight, http.StatusConflict, "POST_IN_FLIGHT"},
		{fmt.Errorf("%w: reddit:a already in declined", drafts.ErrConflict), http.StatusConflict, "DRAFT_CONFLICT"},
		{drafts.ErrNotConfigured, http.StatusServiceUnavailable, "PLATFORM_NOT_CONFIGURED"},
		{&drafts.ExternalError{Output: "boom"}, http.StatusBadGateway, "EXTERNAL_FAILURE"},
		{drafts.ErrInvalidTarget, http.StatusBadRequest, "INVALID_TARGET"},
		{drafts.ErrUnknownPlatform, http.StatusBadRequest, "UNKNOWN_PLATFORM"},
		{drafts.ErrInvalidID, http.StatusBadRequest, "INVALID_ID"},
		{drafts.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
