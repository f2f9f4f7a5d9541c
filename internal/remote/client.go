package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for Options fields left zero.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultRateLimit = 5.0
	DefaultRateBurst = 5

	maxErrorBody = 512
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	RateBurst int
	UserAgent string

	// HTTPClient overrides the transport (tests use httptest clients).
	HTTPClient *http.Client
}

// Client talks to the bot service's JSON API. Every request carries the
// bearer token and passes through a client-side rate limiter.
//
// Thread-safety: all methods are safe for concurrent use. SetToken may be
// called while requests are in flight; they keep the token they started with.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = DefaultRateBurst
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "scenekeeper"
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		userAgent:  userAgent,
		token:      opts.Token,
	}, nil
}

// SetToken replaces the credential used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Identity resolves the user id that owns the token.
func (c *Client) Identity(ctx context.Context) (string, error) {
	const op = "resolve identity"
	var result struct {
		UserID ID `json:"user_id"`
	}
	if err := c.do(ctx, op, http.MethodGet, "/api/me", nil, nil, &result); err != nil {
		return "", err
	}
	if result.UserID == "" {
		return "", fmt.Errorf("%s: empty user_id in response", op)
	}
	return result.UserID.String(), nil
}

// Muses lists the personas visible to the given identities. The same muse
// may appear once per identity that can see it.
func (c *Client) Muses(ctx context.Context, userIDs []string) ([]Muse, error) {
	query := url.Values{"user_id": userIDs}
	var muses []Muse
	if err := c.do(ctx, "list muses", http.MethodGet, "/api/muses", query, nil, &muses); err != nil {
		return nil, err
	}
	return muses, nil
}

// LinkedThreads lists the threads the server already maps to documents.
func (c *Client) LinkedThreads(ctx context.Context, userID string) ([]LinkedThread, error) {
	query := url.Values{"user_id": {userID}}
	var linked []LinkedThread
	if err := c.do(ctx, "list linked threads", http.MethodGet, "/api/scenes/linked", query, nil, &linked); err != nil {
		return nil, err
	}
	return linked, nil
}

// ThreadState queries the live state of one thread.
func (c *Client) ThreadState(ctx context.Context, q ThreadQuery) (ThreadStatus, error) {
	request := struct {
		ThreadID   string   `json:"thread_id"`
		Characters []string `json:"characters"`
		UserID     string   `json:"user_id"`
	}{q.ThreadID, q.Characters, q.UserID}

	var result struct {
		Tracked      bool `json:"tracked"`
		Replied      bool `json:"replied"`
		Participants *int `json:"participants"`
	}
	if err := c.do(ctx, "query thread state", http.MethodPost, "/api/threads/state", nil, request, &result); err != nil {
		return ThreadStatus{}, err
	}
	if !result.Tracked {
		return ThreadStatus{}, nil
	}
	return ThreadStatus{
		Tracked: true,
		State:   &ThreadState{Replied: result.Replied, Participants: result.Participants},
	}, nil
}

// TrackedThreads lists every thread tracked for the identity.
func (c *Client) TrackedThreads(ctx context.Context, userID string) ([]TrackedThread, error) {
	query := url.Values{"user_id": {userID}}
	var tracked []TrackedThread
	if err := c.do(ctx, "list tracked threads", http.MethodGet, "/api/threads/tracked", query, nil, &tracked); err != nil {
		return nil, err
	}
	return tracked, nil
}

// PostMessage posts content into a thread as a muse.
func (c *Client) PostMessage(ctx context.Context, m Message) error {
	request := struct {
		ThreadID string `json:"thread_id"`
		MuseName string `json:"muse_name"`
		Content  string `json:"content"`
		UserID   string `json:"user_id"`
	}{m.ThreadID, m.MuseName, m.Content, m.UserID}
	return c.do(ctx, "post message", http.MethodPost, "/api/messages", nil, request, nil)
}

// RegisterScene links a document to a thread on the server.
func (c *Client) RegisterScene(ctx context.Context, r SceneRegistration) error {
	request := struct {
		ThreadID     string   `json:"thread_id"`
		UserID       string   `json:"user_id"`
		DocumentPath string   `json:"document_path"`
		Characters   []string `json:"characters"`
		Participants int      `json:"participants"`
		ContainerID  string   `json:"guild_id,omitempty"`
	}{r.ThreadID, r.UserID, r.DocumentPath, r.Characters, r.Participants, r.ContainerID}
	return c.do(ctx, "register scene", http.MethodPost, "/api/scenes", nil, request, nil)
}

// TrackThread asks the bot to start tracking a thread. Threads the bot
// cannot read come back as a 4xx StatusError.
func (c *Client) TrackThread(ctx context.Context, threadID, userID, containerID string) error {
	request := struct {
		ThreadID    string `json:"thread_id"`
		UserID      string `json:"user_id"`
		ContainerID string `json:"guild_id,omitempty"`
	}{threadID, userID, containerID}
	return c.do(ctx, "track thread", http.MethodPost, "/api/threads/track", nil, request, nil)
}

// do performs one request. A 401 becomes *AuthError and any other non-2xx
// status becomes *StatusError; out, when non-nil, receives the JSON body.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	token := c.Token()
	if token == "" {
		return fmt.Errorf("%s: %w", op, ErrNoCredential)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", op, err)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{Op: op}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: parsing response: %w", op, err)
	}
	return nil
}
