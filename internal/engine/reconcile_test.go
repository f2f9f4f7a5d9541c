package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenekeeper/internal/frontblock"
	"github.com/roach88/scenekeeper/internal/remote"
	"github.com/roach88/scenekeeper/internal/testutil"
)

const sceneBody = "\n# The Lighthouse\n\nAda climbs the stairs.\n\n---\n\nReplied?: this line is body text.\n"

func scene(threadPath, characters string, extra ...string) string {
	text := "---\nLink: https://discord.com/channels/" + threadPath + "\nCharacters: " + characters + "\n"
	for _, line := range extra {
		text += line + "\n"
	}
	return text + "---\n" + sceneBody
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) Notify(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) all() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notice(nil), l.notices...)
}

type recordingObserver struct {
	mu      sync.Mutex
	results []PassResult
}

func (o *recordingObserver) PassFinished(ctx context.Context, r PassResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.results)
}

type harness struct {
	remote   *testutil.FakeRemote
	docs     *testutil.MemDocs
	notices  *noticeLog
	observer *recordingObserver
	rec      *Reconciler
}

func newHarness(t *testing.T, docs map[string]string) *harness {
	t.Helper()
	h := &harness{
		remote:   testutil.NewFakeRemote("u1"),
		docs:     testutil.NewMemDocs(docs),
		notices:  &noticeLog{},
		observer: &recordingObserver{},
	}
	clock := testutil.NewFakeTime(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), time.Second)
	h.rec = NewReconciler(h.remote, h.docs, NewCache("token"),
		WithNotifier(h.notices),
		WithObserver(h.observer),
		WithPassIDGenerator(testutil.NewSequentialIDs("pass")),
		WithNow(clock.Now),
	)
	return h
}

func (h *harness) pass(t *testing.T) PassResult {
	t.Helper()
	res, err := h.rec.Pass(context.Background(), Trigger{Source: TriggerTimer})
	require.NoError(t, err)
	return res
}

func TestPass_RewritesBothKeysCountsOnce(t *testing.T) {
	h := newHarness(t, map[string]string{
		"Scenes/lighthouse.md": scene("1/2/3", "Ada", "Replied?: false", "Participants: 2"),
	})
	h.remote.AddLinked("3", "Scenes/lighthouse.md", "Ada")
	h.remote.SetThread("3", true, 3)

	res := h.pass(t)

	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Updates, 1)
	assert.Equal(t, "Scenes/lighthouse.md", res.Updates[0].Path)
	assert.Equal(t, "3", res.Updates[0].ThreadID)
	assert.Equal(t, []frontblock.Mutation{
		{Key: KeyReplied, Value: true},
		{Key: KeyParticipants, Value: 3},
	}, res.Updates[0].Changes)

	text := h.docs.Text("Scenes/lighthouse.md")
	want := scene("1/2/3", "Ada", "Replied?: true", "Participants: 3")
	if diff := cmp.Diff(want, text); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
	body, ok := frontblock.Body(text)
	require.True(t, ok)
	assert.Equal(t, sceneBody, body)
	assert.Equal(t, 1, h.docs.Writes("Scenes/lighthouse.md"))
}

func TestPass_Idempotent(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.md": scene("1/2/3", "Ada", "Replied?: false", "Participants: 2"),
		"b.md": scene("1/4", "Grace"),
	})
	h.remote.AddLinked("3", "a.md", "Ada")
	h.remote.SetThread("3", true, 4)
	h.remote.SetThreadNoCount("4", true)

	first := h.pass(t)
	assert.Equal(t, 2, first.Updated)

	second := h.pass(t)
	assert.Equal(t, 0, second.Updated)
	assert.Empty(t, second.Updates)
	assert.Equal(t, 2, h.docs.TotalWrites(), "second pass writes nothing")
}

func TestPass_InactiveNeverWritten(t *testing.T) {
	for _, flag := range []string{"false", `"false"`} {
		t.Run(flag, func(t *testing.T) {
			text := scene("1/2/3", "Ada", "Is Active?: "+flag, "Replied?: false")
			h := newHarness(t, map[string]string{"a.md": text})
			h.remote.AddLinked("3", "a.md", "Ada")
			h.remote.SetThread("3", true, 5)

			res := h.pass(t)

			assert.Equal(t, 0, res.Updated)
			assert.Equal(t, 1, res.Skipped)
			assert.Equal(t, text, h.docs.Text("a.md"))
			assert.Zero(t, h.remote.Calls("ThreadState"))
		})
	}
}

func TestPass_UntrackedWritesNothing(t *testing.T) {
	text := scene("1/2/3", "Ada", "Replied?: true", "Participants: 4")
	h := newHarness(t, map[string]string{"a.md": text})
	h.remote.AddLinked("3", "a.md", "Ada")

	res := h.pass(t)

	assert.Equal(t, 1, res.Untracked)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, text, h.docs.Text("a.md"))
	assert.Zero(t, h.docs.TotalWrites())
}

func TestPass_QuiescentWithoutCredential(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})
	h.rec = NewReconciler(h.remote, h.docs, NewCache(""), WithObserver(h.observer), WithNotifier(h.notices))

	res, err := h.rec.Pass(context.Background(), Trigger{Source: TriggerManual})

	require.NoError(t, err)
	assert.True(t, res.Quiescent)
	assert.Equal(t, "quiescent", res.Outcome())
	assert.Zero(t, h.remote.Calls("Identity"))
	assert.Zero(t, h.remote.Calls("LinkedThreads"))
	assert.Empty(t, h.notices.all())
	assert.Equal(t, 1, h.observer.count())
}

func TestPass_IdentityFailureEndsQuietly(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})
	h.remote.IdentityErr = errors.New("connection refused")

	res := h.pass(t)

	assert.True(t, res.Quiescent)
	assert.Empty(t, h.notices.all())
	assert.Zero(t, h.remote.Calls("LinkedThreads"))
}

func TestPass_EmptyBatchEndsWithZeroUpdates(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})
	h.remote.SetThread("3", true, 3)

	res := h.pass(t)

	assert.False(t, res.Quiescent)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Examined)
	assert.Zero(t, h.remote.Calls("ThreadState"))
	assert.Empty(t, h.notices.all())
}

func TestPass_EmptyBatchNoticeForDirectRequest(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})

	_, err := h.rec.Pass(context.Background(), Trigger{Source: TriggerManual, Path: "a.md"})
	require.NoError(t, err)

	notices := h.notices.all()
	require.Len(t, notices, 1)
	assert.Equal(t, KindValidation, notices[0].Kind)
}

func TestPass_BatchRecordSuppliesQuery(t *testing.T) {
	h := newHarness(t, map[string]string{
		"linked.md":   scene("1/2/3", "Ada"),
		"unlinked.md": scene("1/2/9", "Grace, Ada"),
	})
	h.remote.AddLinked("3", "linked.md", "Ada", "Lin")
	h.remote.SetThread("3", false, 2)
	h.remote.SetThread("9", false, 2)

	h.pass(t)

	queries := h.remote.Queries()
	require.Len(t, queries, 2)
	byThread := map[string]remote.ThreadQuery{}
	for _, q := range queries {
		byThread[q.ThreadID] = q
	}
	assert.Equal(t, []string{"Ada", "Lin"}, byThread["3"].Characters, "batch record characters win")
	assert.Equal(t, []string{"Grace", "Ada"}, byThread["9"].Characters, "document characters used when not linked")
	assert.Equal(t, "u1", byThread["9"].UserID)
}

func TestPass_BatchRecordWinsOnMismatch(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})
	h.remote.AddLinked("77", "a.md", "Ada")
	h.remote.SetThread("77", true, 2)

	res := h.pass(t)

	require.Len(t, h.remote.Queries(), 1)
	assert.Equal(t, "77", h.remote.Queries()[0].ThreadID)
	require.Len(t, res.Updates, 1)
	assert.Equal(t, "77", res.Updates[0].ThreadID)
}

func TestPass_LinkedWithoutCharactersSkipped(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})
	h.remote.AddLinked("3", "a.md")
	h.remote.SetThread("3", true, 2)

	res := h.pass(t)

	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, h.remote.Calls("ThreadState"))
}

func TestPass_BatchLookupIsNFCNormalized(t *testing.T) {
	nfc := "Sc\u00e9nes/Caf\u00e9.md"
	nfd := "Sce\u0301nes/Cafe\u0301.md"
	h := newHarness(t, map[string]string{nfc: scene("1/2/3", "Ada")})
	h.remote.AddLinked("3", nfd, "Lin")
	h.remote.SetThread("3", false, 2)

	h.pass(t)

	require.Len(t, h.remote.Queries(), 1)
	assert.Equal(t, []string{"Lin"}, h.remote.Queries()[0].Characters)
}

func TestPass_DocumentFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.md": scene("1/2/3", "Ada"),
		"b.md": scene("1/2/4", "Ada"),
		"c.md": scene("1/2/5", "Ada"),
	})
	h.remote.AddLinked("3", "a.md", "Ada")
	h.remote.ThreadFn = func(q remote.ThreadQuery) (remote.ThreadStatus, error) {
		if q.ThreadID == "4" {
			return remote.ThreadStatus{}, &remote.StatusError{Op: "query thread state", Code: 502}
		}
		n := 3
		return remote.ThreadStatus{Tracked: true, State: &remote.ThreadState{Replied: true, Participants: &n}}, nil
	}
	h.docs.WriteErr["c.md"] = errors.New("disk full")

	res := h.pass(t)

	assert.NoError(t, res.Err)
	assert.Equal(t, 3, res.Examined)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, "partial", res.Outcome())
	assert.Equal(t, 1, h.docs.Writes("a.md"))
	assert.Empty(t, h.notices.all(), "transport failures are not user notices")
}

func TestPass_AuthNoticeOncePerCallSite(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.md": scene("1/2/3", "Ada"),
		"b.md": scene("1/2/4", "Ada"),
	})
	h.remote.AddLinked("3", "a.md", "Ada")
	h.remote.StateErr = &remote.AuthError{Op: "query thread state"}

	res := h.pass(t)

	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, h.remote.Calls("ThreadState"), "each document is still attempted once")
	notices := h.notices.all()
	require.Len(t, notices, 1)
	assert.Equal(t, KindAuth, notices[0].Kind)
	assert.Equal(t, opThreadState, notices[0].Op)

	h.pass(t)
	assert.Len(t, h.notices.all(), 2, "a new pass may notify again")
}

func TestPass_AuthOnIdentity(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})
	h.remote.IdentityErr = &remote.AuthError{Op: "resolve identity"}

	res := h.pass(t)

	assert.True(t, res.Quiescent)
	notices := h.notices.all()
	require.Len(t, notices, 1)
	assert.Equal(t, opResolveIdentity, notices[0].Op)
}

func TestPass_LinkedFetchUnauthorizedEndsPass(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})
	h.remote.LinkedErr = &remote.AuthError{Op: "list linked threads"}

	res, err := h.rec.Pass(context.Background(), Trigger{Source: TriggerTimer})

	require.Error(t, err)
	assert.Equal(t, err, res.Err)
	assert.Equal(t, "error", res.Outcome())
	assert.True(t, remote.IsUnauthorized(err))
	require.Len(t, h.notices.all(), 1)
	assert.Equal(t, 1, h.observer.count())
}

func TestPass_LinkedBatchUnavailableFallsBackToLinks(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.md": scene("1/2/3", "Ada", "Replied?: false", "Participants: 2"),
		"b.md": scene("1/2/4", "Brunel", "Replied?: false", "Participants: 2"),
	})
	h.remote.LinkedErr = &remote.StatusError{Op: "list linked threads", Code: 502}
	h.remote.SetThread("3", true, 2)

	res, err := h.rec.Pass(context.Background(), Trigger{Source: TriggerTimer})

	require.NoError(t, err)
	assert.Equal(t, "partial", res.Outcome())
	require.Error(t, res.BatchErr)
	assert.Contains(t, res.BatchErr.Error(), "list linked threads")
	assert.Equal(t, res.BatchErr, res.Problem())
	assert.Equal(t, 2, res.Examined)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Untracked)
	assert.Equal(t, 0, res.Failed)
	assert.Contains(t, h.docs.Text("a.md"), "Replied?: true")
	assert.Empty(t, h.notices.all())
	assert.Equal(t, 1, h.observer.count())

	queries := h.remote.Queries()
	require.Len(t, queries, 2)
	assert.Equal(t, "3", queries[0].ThreadID)
	assert.Equal(t, []string{"Ada"}, queries[0].Characters)
	assert.Equal(t, "4", queries[1].ThreadID)
}

func TestPass_ParticipantTargets(t *testing.T) {
	tests := []struct {
		name    string
		current string
		server  *int
		want    string
		writes  int
	}{
		{name: "omitted defaults to two", current: "Participants: 5", server: nil, want: "Participants: 2", writes: 1},
		{name: "zero clamps to one", current: "Participants: 2", server: intPtr(0), want: "Participants: 1", writes: 1},
		{name: "equal is untouched", current: "Participants: 3", server: intPtr(3), want: "Participants: 3", writes: 0},
		{name: "quoted equal is untouched", current: `Participants: "3"`, server: intPtr(3), want: `Participants: "3"`, writes: 0},
		{name: "garbage is rewritten", current: "Participants: lots", server: intPtr(3), want: "Participants: 3", writes: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada", "Replied?: false", tt.current)})
			h.remote.AddLinked("3", "a.md", "Ada")
			h.remote.ThreadFn = func(remote.ThreadQuery) (remote.ThreadStatus, error) {
				return remote.ThreadStatus{Tracked: true, State: &remote.ThreadState{Participants: tt.server}}, nil
			}

			h.pass(t)

			assert.Equal(t, scene("1/2/3", "Ada", "Replied?: false", tt.want), h.docs.Text("a.md"))
			assert.Equal(t, tt.writes, h.docs.Writes("a.md"))
		})
	}
}

func TestPass_HandEditedRepliedForms(t *testing.T) {
	tests := []struct {
		current string
		server  bool
		writes  int
	}{
		{current: `Replied?: "True"`, server: true, writes: 0},
		{current: `Replied?: "true"`, server: true, writes: 0},
		{current: `Replied?: "false"`, server: false, writes: 0},
		{current: `Replied?: "false"`, server: true, writes: 1},
		{current: `Replied?: maybe`, server: false, writes: 0},
		{current: `Replied?: maybe`, server: true, writes: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.current, tt.server), func(t *testing.T) {
			h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada", tt.current, "Participants: 2")})
			h.remote.AddLinked("3", "a.md", "Ada")
			h.remote.SetThread("3", tt.server, 2)

			h.pass(t)

			assert.Equal(t, tt.writes, h.docs.Writes("a.md"))
		})
	}
}

func TestPass_AppendsMissingKeys(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})
	h.remote.AddLinked("3", "a.md", "Ada")
	h.remote.SetThread("3", false, 2)

	res := h.pass(t)

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []frontblock.Mutation{{Key: KeyParticipants, Value: 2}}, res.Updates[0].Changes)
	assert.Equal(t, scene("1/2/3", "Ada", "Participants: 2"), h.docs.Text("a.md"))
}

func TestPass_ScopedToOneDocument(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.md": scene("1/2/3", "Ada"),
		"b.md": scene("1/2/4", "Ada"),
	})
	h.remote.AddLinked("3", "a.md", "Ada")
	h.remote.SetThread("3", true, 2)
	h.remote.SetThread("4", true, 2)

	res, err := h.rec.Pass(context.Background(), Trigger{Source: TriggerDocumentChange, Path: "b.md"})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Examined)
	assert.Equal(t, 1, h.docs.Writes("b.md"))
	assert.Zero(t, h.docs.Writes("a.md"))
}

func TestPass_ValidationNoticeOnlyForDirectRequest(t *testing.T) {
	docs := map[string]string{
		"a.md":    scene("1/2/3", "Ada"),
		"note.md": "---\nCharacters: Ada\n---\nno link here\n",
	}

	t.Run("bulk pass stays quiet", func(t *testing.T) {
		h := newHarness(t, docs)
		h.remote.AddLinked("3", "a.md", "Ada")
		res := h.pass(t)
		assert.Equal(t, 1, res.Skipped)
		assert.Empty(t, h.notices.all())
	})

	t.Run("direct request is told why", func(t *testing.T) {
		h := newHarness(t, docs)
		h.remote.AddLinked("3", "a.md", "Ada")
		_, err := h.rec.Pass(context.Background(), Trigger{Source: TriggerManual, Path: "note.md"})
		require.NoError(t, err)

		notices := h.notices.all()
		require.Len(t, notices, 1)
		assert.Equal(t, KindValidation, notices[0].Kind)
		assert.Equal(t, "note.md", notices[0].Path)
		assert.Contains(t, notices[0].Message, "no Link")
	})
}

func TestPass_ListFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.AddLinked("3", "a.md", "Ada")
	h.docs.ListErr = errors.New("permission denied")

	_, err := h.rec.Pass(context.Background(), Trigger{Source: TriggerTimer})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list documents")
}

func TestPass_ResultBookkeeping(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": scene("1/2/3", "Ada")})
	h.remote.AddLinked("3", "a.md", "Ada")

	first := h.pass(t)
	second := h.pass(t)

	assert.Equal(t, "pass-0001", first.ID)
	assert.Equal(t, "pass-0002", second.ID)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, "u1", first.Identity)
	assert.Equal(t, 1, first.Linked)
	assert.Equal(t, time.Second, first.Duration())
	assert.Equal(t, 1, h.remote.Calls("Identity"), "identity is cached across passes")
	assert.Equal(t, 2, h.observer.count())
}

func TestPass_CancelledContextStops(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.md": scene("1/2/3", "Ada"),
		"b.md": scene("1/2/4", "Ada"),
	})
	h.remote.AddLinked("3", "a.md", "Ada")

	ctx, cancel := context.WithCancel(context.Background())
	h.remote.ThreadFn = func(remote.ThreadQuery) (remote.ThreadStatus, error) {
		cancel()
		return remote.ThreadStatus{}, context.Canceled
	}

	res, err := h.rec.Pass(ctx, Trigger{Source: TriggerTimer})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Examined)
	assert.Zero(t, res.Failed)
}

func intPtr(n int) *int { return &n }
