package scene

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/remote"
	"github.com/roach88/scenekeeper/internal/testutil"
)

const linkedScene = "---\nLink: https://discord.com/channels/1/2/3\nCharacters: Ada\n---\nThe tide came in.\n"

type postLog struct {
	results []PostResult
	errs    []error
}

func (l *postLog) PostFinished(_ context.Context, r PostResult, err error) {
	l.results = append(l.results, r)
	l.errs = append(l.errs, err)
}

// failAfter delivers n messages, then fails every one after.
type failAfter struct {
	*testutil.FakeRemote
	n    int
	sent int
}

func (f *failAfter) PostMessage(ctx context.Context, m remote.Message) error {
	if f.sent >= f.n {
		return errors.New("connection reset")
	}
	f.sent++
	return f.FakeRemote.PostMessage(ctx, m)
}

func newPoster(t *testing.T, s Sender, token string, opts ...PosterOption) (*Poster, *notices) {
	t.Helper()
	docs := testutil.NewMemDocs(map[string]string{
		"Scenes/Tide.md":     linkedScene,
		"Scenes/Unlinked.md": "---\nCharacters: Ada\n---\n",
		"Scenes/Bare.md":     "no block here\n",
	})
	n := &notices{}
	opts = append([]PosterOption{WithPostNotifier(n)}, opts...)
	return NewPoster(s, docs, engine.NewCache(token), opts...), n
}

func museRemote() *testutil.FakeRemote {
	fake := testutil.NewFakeRemote("u1")
	fake.Muse["u1"] = []remote.Muse{{Name: "Ada Lovelace"}, {Name: "Brunel"}}
	return fake
}

func TestPost_ToSceneThread(t *testing.T) {
	fake := museRemote()
	p, n := newPoster(t, fake, "token")

	res, err := p.Post(context.Background(), PostRequest{
		Muse:      "Brunel",
		ScenePath: "Scenes/Tide.md",
		Content:   "  The bridge held.  ",
	})
	require.NoError(t, err)
	assert.Empty(t, n.got)

	assert.Equal(t, PostResult{
		ThreadID:  "3",
		Muse:      "Brunel",
		ScenePath: "Scenes/Tide.md",
		Parts:     1,
		Chars:     len("The bridge held."),
	}, res)
	assert.Equal(t, []remote.Message{{
		ThreadID: "3",
		MuseName: "Brunel",
		Content:  "The bridge held.",
		UserID:   "u1",
	}}, fake.Posts())
}

func TestPost_ToLink(t *testing.T) {
	fake := museRemote()
	p, _ := newPoster(t, fake, "token")

	res, err := p.Post(context.Background(), PostRequest{
		Muse:    "Brunel",
		Link:    "discord.com/channels/5/6",
		Content: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "6", res.ThreadID)
	require.Len(t, fake.Posts(), 1)
	assert.Equal(t, "6", fake.Posts()[0].ThreadID)
}

func TestPost_MuseMatchesCaseInsensitively(t *testing.T) {
	fake := museRemote()
	p, _ := newPoster(t, fake, "token")

	res, err := p.Post(context.Background(), PostRequest{
		Muse:      "ada lovelace",
		ScenePath: "Scenes/Tide.md",
		Content:   "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", res.Muse)
	assert.Equal(t, "Ada Lovelace", fake.Posts()[0].MuseName)
}

func TestPost_UnknownMuse(t *testing.T) {
	fake := museRemote()
	p, n := newPoster(t, fake, "token")

	_, err := p.Post(context.Background(), PostRequest{
		Muse:      "Grace",
		ScenePath: "Scenes/Tide.md",
		Content:   "hi",
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, fake.Calls("PostMessage"))

	require.Len(t, n.got, 1)
	assert.Equal(t, engine.KindValidation, n.got[0].Kind)
	assert.Contains(t, n.got[0].Message, `"Grace"`)
	assert.Contains(t, n.got[0].Message, "Ada Lovelace, Brunel")
}

func TestPost_AccountWithoutMuses(t *testing.T) {
	fake := testutil.NewFakeRemote("u1")
	p, n := newPoster(t, fake, "token")

	_, err := p.Post(context.Background(), PostRequest{Muse: "Ada", ScenePath: "Scenes/Tide.md", Content: "hi"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Len(t, n.got, 1)
	assert.Contains(t, n.got[0].Message, "no muses")
}

func TestPost_ExtraIdentities(t *testing.T) {
	fake := museRemote()
	fake.Muse["u2"] = []remote.Muse{{Name: "Shared Narrator", IsShared: true}}
	p, _ := newPoster(t, fake, "token", WithIdentities("u2", "u1"))

	res, err := p.Post(context.Background(), PostRequest{
		Muse:      "shared narrator",
		ScenePath: "Scenes/Tide.md",
		Content:   "The lamps went out.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Shared Narrator", res.Muse)
	// The token's own identity is posted as even when the muse is shared.
	assert.Equal(t, "u1", fake.Posts()[0].UserID)
}

func TestPost_InvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		req    PostRequest
		reason engine.SkipReason
	}{
		{
			name: "empty content",
			req:  PostRequest{Muse: "Brunel", ScenePath: "Scenes/Tide.md", Content: " \n\t "},
		},
		{
			name: "no target",
			req:  PostRequest{Muse: "Brunel", Content: "hi"},
		},
		{
			name: "bad link",
			req:  PostRequest{Muse: "Brunel", Link: "https://example.com/3", Content: "hi"},
		},
		{
			name: "no muse",
			req:  PostRequest{ScenePath: "Scenes/Tide.md", Content: "hi"},
		},
		{
			name:   "scene without link",
			req:    PostRequest{Muse: "Brunel", ScenePath: "Scenes/Unlinked.md", Content: "hi"},
			reason: engine.SkipNoLink,
		},
		{
			name:   "scene without front block",
			req:    PostRequest{Muse: "Brunel", ScenePath: "Scenes/Bare.md", Content: "hi"},
			reason: engine.SkipNoFrontBlock,
		},
		{
			name:   "missing scene",
			req:    PostRequest{Muse: "Brunel", ScenePath: "Scenes/Gone.md", Content: "hi"},
			reason: engine.SkipReadError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := museRemote()
			p, n := newPoster(t, fake, "token")

			_, err := p.Post(context.Background(), tt.req)
			require.Error(t, err)
			assert.Zero(t, fake.Calls("PostMessage"))
			require.Len(t, n.got, 1)
			assert.Equal(t, engine.KindValidation, n.got[0].Kind)

			if tt.reason == "" {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			var ve *engine.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.reason, ve.Reason)
			assert.Equal(t, tt.req.ScenePath, ve.Path)
		})
	}
}

func TestPost_Unauthorized(t *testing.T) {
	fake := museRemote()
	fake.PostErr = &remote.AuthError{Op: "post message"}
	p, n := newPoster(t, fake, "token")

	res, err := p.Post(context.Background(), PostRequest{Muse: "Brunel", ScenePath: "Scenes/Tide.md", Content: "hi"})
	require.Error(t, err)
	assert.True(t, remote.IsUnauthorized(err))
	assert.Zero(t, res.Parts)

	require.Len(t, n.got, 1)
	assert.Equal(t, engine.KindAuth, n.got[0].Kind)
	assert.Equal(t, "post message", n.got[0].Op)
}

func TestPost_NoCredential(t *testing.T) {
	fake := museRemote()
	p, n := newPoster(t, fake, "")

	_, err := p.Post(context.Background(), PostRequest{Muse: "Brunel", ScenePath: "Scenes/Tide.md", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, engine.KindQuiescent, engine.KindOf(err))
	assert.Zero(t, fake.Calls("Identity"))

	require.Len(t, n.got, 1)
	assert.Equal(t, engine.KindQuiescent, n.got[0].Kind)
}

func TestPost_StopsAtFirstFailedPart(t *testing.T) {
	fake := museRemote()
	s := &failAfter{FakeRemote: fake, n: 1}
	log := &postLog{}
	p, n := newPoster(t, s, "token", WithPostObserver(log))

	long := strings.Repeat("word ", 1000) // three parts
	res, err := p.Post(context.Background(), PostRequest{Muse: "Brunel", ScenePath: "Scenes/Tide.md", Content: long})
	require.Error(t, err)
	assert.Equal(t, 1, res.Parts)
	assert.Len(t, fake.Posts(), 1)

	// Transport failures are logged, not raised.
	assert.Empty(t, n.got)

	require.Len(t, log.results, 1)
	assert.Equal(t, res, log.results[0])
	assert.Equal(t, err, log.errs[0])
}

func TestPost_ObserverSeesSuccess(t *testing.T) {
	log := &postLog{}
	p, _ := newPoster(t, museRemote(), "token", WithPostObserver(log))

	res, err := p.Post(context.Background(), PostRequest{Muse: "Brunel", ScenePath: "Scenes/Tide.md", Content: "hi"})
	require.NoError(t, err)
	require.Len(t, log.results, 1)
	assert.Equal(t, res, log.results[0])
	assert.NoError(t, log.errs[0])
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		content string
		limit   int
		want    []string
	}{
		{name: "fits", content: "short", limit: 10, want: []string{"short"}},
		{name: "exact fit", content: "abcd", limit: 4, want: []string{"abcd"}},
		{name: "empty", content: " \n ", limit: 10, want: nil},
		{name: "paragraph break", content: "one two\n\nthree four", limit: 15, want: []string{"one two", "three four"}},
		{name: "line break", content: "alpha\nbeta gamma delta", limit: 12, want: []string{"alpha", "beta gamma", "delta"}},
		{name: "space", content: "aaa bbb ccc", limit: 7, want: []string{"aaa", "bbb ccc"}},
		{name: "hard cut", content: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "counts characters not bytes", content: "ééééé", limit: 2, want: []string{"éé", "éé", "é"}},
		{name: "zero limit cuts per character", content: "ab c", limit: 0, want: []string{"a", "b", "c"}},
		{name: "negative limit", content: "xy", limit: -5, want: []string{"x", "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.content, tt.limit))
		})
	}
}

func TestSplit_LongMessageKeepsEveryWord(t *testing.T) {
	content := strings.TrimSpace(strings.Repeat("lantern ", 700))
	parts := Split(content, MaxMessageLength)
	require.Len(t, parts, 3)
	for _, part := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(part), MaxMessageLength)
		assert.False(t, strings.HasPrefix(part, " "))
		assert.False(t, strings.HasSuffix(part, " "))
	}
	assert.Equal(t, content, strings.Join(parts, " "))
}
