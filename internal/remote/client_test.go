package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{
		BaseURL:    srv.URL,
		Token:      "secret",
		RateLimit:  1000,
		RateBurst:  100,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/me", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"user_id": "123456789012345678"}`))
	})

	id, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678", id)
}

func TestIdentity_NumericIDKeepsPrecision(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_id": 9007199254740993}`))
	})

	id, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", id)
}

func TestIdentity_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Identity(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "resolve identity", ae.Op)
}

func TestDo_NoCredential(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	c.SetToken("")

	_, err := c.Identity(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.False(t, called, "no request may be sent without a token")
}

func TestDo_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "thread not visible", http.StatusBadRequest)
	})

	err := c.TrackThread(context.Background(), "3", "u1", "1")
	require.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.False(t, IsUnauthorized(err))
	assert.Contains(t, err.Error(), "thread not visible")
}

func TestDo_MalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := c.LinkedThreads(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing response")
}

func TestMuses_SendsEveryIdentity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"u1", "u2"}, r.URL.Query()["user_id"])
		w.Write([]byte(`[{"name":"Ada","trigger":"a:","owner_id":"u1"},{"name":"Grace","owner_id":"u2","is_shared":true}]`))
	})

	muses, err := c.Muses(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, muses, 2)
	assert.Equal(t, "Ada", muses[0].Name)
	assert.Equal(t, ID("u2"), muses[1].OwnerID)
	assert.True(t, muses[1].IsShared)
}

func TestLinkedThreads(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
		w.Write([]byte(`[{"thread_id": 1234567890123456789, "document_path": "Scenes/Rain.md", "characters": ["Ada"], "guild_id": "1"}]`))
	})

	linked, err := c.LinkedThreads(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, ID("1234567890123456789"), linked[0].ThreadID)
	assert.Equal(t, "Scenes/Rain.md", linked[0].DocumentPath)
	assert.Equal(t, ID("1"), linked[0].ContainerID)
}

func TestThreadState(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ThreadStatus
	}{
		{
			name: "tracked with count",
			body: `{"tracked": true, "replied": true, "participants": 3}`,
			want: ThreadStatus{Tracked: true, State: &ThreadState{Replied: true, Participants: intPtr(3)}},
		},
		{
			name: "tracked without count",
			body: `{"tracked": true, "replied": false}`,
			want: ThreadStatus{Tracked: true, State: &ThreadState{}},
		},
		{
			name: "untracked ignores other fields",
			body: `{"tracked": false, "replied": false, "participants": 0}`,
			want: ThreadStatus{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				var req map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "333", req["thread_id"])
				assert.Equal(t, "u1", req["user_id"])
				w.Write([]byte(tt.body))
			})

			got, err := c.ThreadState(context.Background(), ThreadQuery{
				ThreadID:   "333",
				Characters: []string{"Ada"},
				UserID:     "u1",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPostMessage(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	err := c.PostMessage(context.Background(), Message{
		ThreadID: "333", MuseName: "Ada", Content: "Hello.", UserID: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"thread_id": "333", "muse_name": "Ada", "content": "Hello.", "user_id": "u1",
	}, got)
}

func TestSetToken(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.Write([]byte(`{"user_id":"u"}`))
	})

	_, err := c.Identity(context.Background())
	require.NoError(t, err)
	c.SetToken("rotated")
	_, err = c.Identity(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer secret", "Bearer rotated"}, seen)
	assert.Equal(t, "rotated", c.Token())
}

func TestID_RejectsNonInteger(t *testing.T) {
	var id ID
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &id))
	assert.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.Equal(t, ID(""), id)
}

func intPtr(n int) *int { return &n }
