package drafts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clawdops/outreach-desk/internal/audit"
	"github.com/clawdops/outreach-desk/pkg/kv"
	"github.com/clawdops/outreach-desk/pkg/kv/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockPoster struct {
	mock.Mock
}

func (m *MockPoster) Post(ctx context.Context, req PostRequest) (PostResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(PostResult), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(ctx context.Context) { c.calls++ }

// downKV fails every call the way a dead redis does.
type downKV struct{}

func (downKV) Set(context.Context, string, []byte, ...time.Duration) error {
	return kv.ErrBackendUnavailable
}
func (downKV) Get(context.Context, string) ([]byte, error) { return nil, kv.ErrBackendUnavailable }
func (downKV) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, kv.ErrBackendUnavailable
}
func (downKV) Del(context.Context, ...string) (int64, error)    { return 0, kv.ErrBackendUnavailable }
func (downKV) Exists(context.Context, ...string) (int64, error) { return 0, kv.ErrBackendUnavailable }
func (downKV) TTL(context.Context, string) (time.Duration, error) {
	return 0, kv.ErrBackendUnavailable
}
func (downKV) Ping(context.Context) error { return kv.ErrBackendUnavailable }
func (downKV) Close() error               { return nil }

type lifecycleFixture struct {
	base    string
	store   *Store
	poster  *MockPoster
	markers *memory.Store
	audit   *audit.MemoryRepository
	inval   *countingInvalidator
	manager *Manager
}

func newLifecycleFixture(t *testing.T, extra ...ManagerOption) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		base:    t.TempDir(),
		poster:  new(MockPoster),
		markers: memory.New(0),
		audit:   audit.NewMemoryRepository(100),
		inval:   &countingInvalidator{},
	}
	t.Cleanup(func() { _ = f.markers.Close() })
	f.store = NewStore(f.base)
	opts := []ManagerOption{
		WithPoster(f.poster),
		WithMarkers(f.markers, time.Minute),
		WithAudit(f.audit),
		WithInvalidator(f.inval),
	}
	f.manager = NewManager(f.store, zap.NewNop().Sugar(), append(opts, extra...)...)
	return f
}

func (f *lifecycleFixture) pending(t *testing.T, p Platform) []string {
	t.Helper()
	ids, err := f.store.ListPending(p)
	require.NoError(t, err)
	return ids
}

func TestMarkDone(t *testing.T) {
	f := newLifecycleFixture(t)
	writeDraft(t, f.base, Reddit, Pending, "golang-cli", redditDraft, time.Time{})
	ctx := WithRequestID(context.Background(), "req-1")

	require.NoError(t, f.manager.MarkDone(ctx, "reddit:golang-cli"))

	assert.Empty(t, f.pending(t, Reddit))
	done, _ := f.store.ListCompleted(Reddit)
	assert.Equal(t, []string{"golang-cli"}, done)
	assert.Equal(t, 1, f.inval.calls)

	err := f.manager.MarkDone(ctx, "reddit:golang-cli")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.inval.calls, "failed transitions do not invalidate")

	events, err := f.audit.ListByDraft(ctx, "reddit:golang-cli", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.OutcomeFailed, events[0].Outcome)
	assert.Equal(t, audit.OutcomeOK, events[1].Outcome)
	assert.Equal(t, audit.ActionDone, events[1].Action)
	assert.Equal(t, "req-1", events[1].RequestID)
}

func TestDeclineKeepsFile(t *testing.T) {
	f := newLifecycleFixture(t)
	writeDraft(t, f.base, X, Pending, "spicy", "# X Post: spicy\n## Content\nhot take\n", time.Time{})

	require.NoError(t, f.manager.Decline(context.Background(), "x:spicy"))

	declined, _ := f.store.ListDeclined(X)
	assert.Equal(t, []string{"spicy"}, declined)
	assert.Empty(t, f.pending(t, X))

	assert.ErrorIs(t, f.manager.MarkDone(context.Background(), "x:spicy"), ErrNotFound)
}

func TestDeclineDoesNotOverwriteDeclinedCopy(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	writeDraft(t, f.base, X, Declined, "spicy", "earlier take", time.Time{})
	writeDraft(t, f.base, X, Pending, "spicy", "# X Post: spicy\n## Content\nhot take\n", time.Time{})

	assert.ErrorIs(t, f.manager.Decline(ctx, "x:spicy"), ErrConflict)
	assert.Equal(t, []string{"spicy"}, f.pending(t, X))
	assert.Zero(t, f.inval.calls)

	events, err := f.audit.ListByDraft(ctx, "x:spicy", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.OutcomeFailed, events[0].Outcome)
}

func TestTransitionsRejectBadIDs(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.manager.MarkDone(ctx, "nocolon"), ErrInvalidID)
	assert.ErrorIs(t, f.manager.Decline(ctx, "myspace:a"), ErrUnknownPlatform)
	assert.ErrorIs(t, f.manager.Reschedule(ctx, "x:", time.Now()), ErrInvalidID)
	_, err := f.manager.PostNow(ctx, "reddit:../done/a", "text", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReschedule(t *testing.T) {
	f := newLifecycleFixture(t)
	path := writeDraft(t, f.base, X, Pending, "later", "# X Post: later\n**Created:** 2025-02-01\n\n## Content\nhi\n", time.Time{})
	ctx := context.Background()

	assert.ErrorIs(t, f.manager.Reschedule(ctx, "x:later", time.Time{}), ErrInvalidInput)

	when := time.Date(2025, 3, 4, 17, 0, 0, 0, time.UTC)
	require.NoError(t, f.manager.Reschedule(ctx, "x:later", when))

	raw, err := f.store.ReadRaw(X, "later")
	require.NoError(t, err)
	assert.Contains(t, string(raw.Content), "**Scheduled:** 2025-03-04T17:00:00Z")
	assert.FileExists(t, path)
	assert.Equal(t, []string{"later"}, f.pending(t, X))

	events, _ := f.audit.ListByDraft(ctx, "x:later", 1)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionReschedule, events[0].Action)
	assert.Equal(t, "2025-03-04T17:00:00Z", events[0].Detail)

	assert.ErrorIs(t, f.manager.Reschedule(ctx, "x:missing", when), ErrNotFound)
}

func TestPostNowSuccess(t *testing.T) {
	pub := new(MockPublisher)
	f := newLifecycleFixture(t, WithPublisher(pub))
	writeDraft(t, f.base, X, Pending, "reply", "# X Reply: r\n**URL:** https://x.com/a/status/42\n\n## Reply\nthe draft body\n", time.Time{})
	ctx := context.Background()
	target := "https://x.com/a/status/42"

	f.poster.On("Post", mock.Anything, PostRequest{
		Platform: X,
		DraftID:  "x:reply",
		Text:     "edited text",
		ReplyTo:  target,
	}).Return(PostResult{Output: "posted 42"}, nil).Once()
	pub.On("Publish", mock.Anything, EventsChannel, mock.MatchedBy(func(ev Event) bool {
		return ev.Type == EventPosted && ev.DraftID == "x:reply"
	})).Return(nil).Once()

	out, err := f.manager.PostNow(ctx, "x:reply", "edited text", &target)
	require.NoError(t, err)

	assert.Equal(t, "x:reply", out.DraftID)
	assert.Equal(t, "posted 42", out.Output)
	assert.False(t, out.Resumed)
	assert.Empty(t, f.pending(t, X))
	done, _ := f.store.ListCompleted(X)
	assert.Equal(t, []string{"reply"}, done)

	n, err := f.markers.Exists(ctx, markerPrefix+"x:reply")
	require.NoError(t, err)
	assert.Zero(t, n, "marker cleared after the move")

	f.poster.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestPostNowFallsBackToBodyThenCaption(t *testing.T) {
	f := newLifecycleFixture(t)
	writeDraft(t, f.base, X, Pending, "a", "## Content\n**bold** body\n", time.Time{})
	writeDraft(t, f.base, Instagram, Pending, "b", "## Caption\nthe caption\n", time.Time{})
	writeDraft(t, f.base, TikTok, Pending, "c", "# nothing here\n", time.Time{})

	f.poster.On("Post", mock.Anything, mock.MatchedBy(func(r PostRequest) bool {
		return r.DraftID == "x:a" && r.Text == "bold body" && r.ReplyTo == ""
	})).Return(PostResult{}, nil).Once()
	f.poster.On("Post", mock.Anything, mock.MatchedBy(func(r PostRequest) bool {
		return r.DraftID == "instagram:b" && r.Text == "the caption"
	})).Return(PostResult{}, nil).Once()

	_, err := f.manager.PostNow(context.Background(), "x:a", "  ", nil)
	require.NoError(t, err)
	_, err = f.manager.PostNow(context.Background(), "instagram:b", "", nil)
	require.NoError(t, err)
	_, err = f.manager.PostNow(context.Background(), "tiktok:c", "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.poster.AssertExpectations(t)
	assert.Equal(t, []string{"c"}, f.pending(t, TikTok))
}

func TestPostNowFailureLeavesDraftPending(t *testing.T) {
	pub := new(MockPublisher)
	f := newLifecycleFixture(t, WithPublisher(pub))
	writeDraft(t, f.base, Reddit, Pending, "golang-cli", redditDraft, time.Time{})
	ctx := context.Background()

	extErr := &ExternalError{Platform: Reddit, Output: "rate limited"}
	f.poster.On("Post", mock.Anything, mock.Anything).Return(PostResult{}, extErr).Once()
	pub.On("Publish", mock.Anything, EventsChannel, mock.MatchedBy(func(ev Event) bool {
		return ev.Type == EventPostFailed && ev.Detail == "external posting failed: rate limited"
	})).Return(nil).Once()

	_, err := f.manager.PostNow(ctx, "reddit:golang-cli", "hello", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalFailure)
	var ee *ExternalError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "rate limited", ee.Output)

	assert.Equal(t, []string{"golang-cli"}, f.pending(t, Reddit))
	assert.Zero(t, f.inval.calls)

	n, _ := f.markers.Exists(ctx, markerPrefix+"reddit:golang-cli")
	assert.Zero(t, n, "failed post releases the marker")

	events, _ := f.audit.ListByDraft(ctx, "reddit:golang-cli", 5)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionPost, events[0].Action)
	assert.Equal(t, audit.OutcomeFailed, events[0].Outcome)

	pub.AssertExpectations(t)
}

func TestPostNowNotConfigured(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base)
	writeDraft(t, base, X, Pending, "a", "## Content\nhi\n", time.Time{})
	m := NewManager(store, nil)

	_, err := m.PostNow(context.Background(), "x:a", "", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	ids, _ := store.ListPending(X)
	assert.Equal(t, []string{"a"}, ids)
}

func TestPostNowInFlight(t *testing.T) {
	f := newLifecycleFixture(t)
	writeDraft(t, f.base, X, Pending, "a", "## Content\nhi\n", time.Time{})
	ctx := context.Background()
	require.NoError(t, f.markers.Set(ctx, markerPrefix+"x:a", []byte(markerInflight), time.Minute))

	_, err := f.manager.PostNow(ctx, "x:a", "", nil)
	assert.ErrorIs(t, err, ErrPostInFlight)
	assert.Contains(t, err.Error(), "claim expires in 1m0s")

	f.poster.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"a"}, f.pending(t, X))
}

func TestPostNowResumesAfterPostedMarker(t *testing.T) {
	f := newLifecycleFixture(t)
	writeDraft(t, f.base, X, Pending, "a", "## Content\nhi\n", time.Time{})
	ctx := context.Background()
	require.NoError(t, f.markers.Set(ctx, markerPrefix+"x:a", []byte(markerPosted), time.Hour))

	out, err := f.manager.PostNow(ctx, "x:a", "", nil)
	require.NoError(t, err)
	assert.True(t, out.Resumed)

	f.poster.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
	done, _ := f.store.ListCompleted(X)
	assert.Equal(t, []string{"a"}, done)
}

func TestPostNowWithoutMarkerStore(t *testing.T) {
	f := newLifecycleFixture(t, WithMarkers(downKV{}, time.Minute))
	writeDraft(t, f.base, X, Pending, "a", "## Content\nhi\n", time.Time{})

	f.poster.On("Post", mock.Anything, mock.Anything).Return(PostResult{Output: "ok"}, nil).Once()

	out, err := f.manager.PostNow(context.Background(), "x:a", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Output)
	assert.Empty(t, f.pending(t, X))
	f.poster.AssertExpectations(t)
}

func TestPostNowMissingDraft(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.manager.PostNow(context.Background(), "x:ghost", "text", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	f.poster.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
}

func TestOutcomeCode(t *testing.T) {
	assert.Equal(t, "ok", outcomeCode(nil))
	assert.Equal(t, "not_found", outcomeCode(ErrNotFound))
	assert.Equal(t, "external_failure", outcomeCode(&ExternalError{Output: "x"}))
	assert.Equal(t, "invalid_target", outcomeCode(ErrInvalidTarget))
	assert.Equal(t, "error", outcomeCode(errors.New("boom")))
}
