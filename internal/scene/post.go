package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/frontblock"
	"github.com/roach88/scenekeeper/internal/remote"
	"github.com/roach88/scenekeeper/internal/threadref"
	"github.com/roach88/scenekeeper/internal/vault"
)

// MaxMessageLength is the bot's per-message limit, in characters.
const MaxMessageLength = 2000

// Sender is the part of the bot API posting uses.
type Sender interface {
	engine.IdentitySource
	engine.MuseSource
	PostMessage(ctx context.Context, m remote.Message) error
}

// BlockReader reads a document's front-block.
type BlockReader interface {
	FrontBlock(ctx context.Context, path string) (*frontblock.Block, error)
}

// PostObserver is told about every post attempt, successful or not.
type PostObserver interface {
	PostFinished(ctx context.Context, r PostResult, err error)
}

// PostRequest asks to post Content into a thread as Muse. The thread comes
// from the Link of the scene at ScenePath, or from Link directly.
type PostRequest struct {
	Muse      string
	ScenePath string
	Link      string
	Content   string
}

// PostResult describes what was sent. Parts counts the messages actually
// delivered, which is less than the split count when posting failed part
// way.
type PostResult struct {
	ThreadID  string
	Muse      string
	ScenePath string
	Parts     int
	Chars     int
}

// Poster posts messages into scene threads.
type Poster struct {
	remote     Sender
	docs       BlockReader
	cache      *engine.Cache
	identities []string
	notifier   engine.Notifier
	observers  []PostObserver
}

// PosterOption configures a Poster.
type PosterOption func(*Poster)

// WithPostNotifier sets where notices go.
func WithPostNotifier(n engine.Notifier) PosterOption {
	return func(p *Poster) { p.notifier = n }
}

// WithPostObserver adds an observer.
func WithPostObserver(o PostObserver) PosterOption {
	return func(p *Poster) { p.observers = append(p.observers, o) }
}

// WithIdentities adds identities, beyond the token's own, whose muses may be
// posted as (e.g. a shared account).
func WithIdentities(ids ...string) PosterOption {
	return func(p *Poster) { p.identities = append(p.identities, ids...) }
}

// NewPoster creates a Poster.
func NewPoster(s Sender, docs BlockReader, cache *engine.Cache, opts ...PosterOption) *Poster {
	p := &Poster{
		remote:   s,
		docs:     docs,
		cache:    cache,
		notifier: engine.NotifierFunc(func(engine.Notice) {}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Post validates the request, resolves the thread and the muse, then sends
// the content, split into parts of at most MaxMessageLength characters.
// Parts are sent in order and sending stops at the first failure.
func (p *Poster) Post(ctx context.Context, req PostRequest) (PostResult, error) {
	res, err := p.post(ctx, req)
	for _, o := range p.observers {
		o.PostFinished(ctx, res, err)
	}
	return res, err
}

func (p *Poster) post(ctx context.Context, req PostRequest) (PostResult, error) {
	res := PostResult{ScenePath: req.ScenePath}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return res, p.invalid(req.ScenePath, "there is nothing to post")
	}

	ref, err := p.thread(ctx, req)
	if err != nil {
		return res, err
	}
	res.ThreadID = ref.ThreadID

	identity, err := p.cache.Identity(ctx, p.remote)
	if err != nil {
		return res, p.remoteFailed("resolve identity", err)
	}

	muse, err := p.muse(ctx, identity, req.Muse)
	if err != nil {
		return res, err
	}
	res.Muse = muse

	parts := Split(content, MaxMessageLength)
	for i, part := range parts {
		err := p.remote.PostMessage(ctx, remote.Message{
			ThreadID: ref.ThreadID,
			MuseName: muse,
			Content:  part,
			UserID:   identity,
		})
		if err != nil {
			slog.Warn("post failed",
				"thread_id", ref.ThreadID,
				"muse", muse,
				"part", i+1,
				"parts", len(parts),
				"error", err,
			)
			return res, p.remoteFailed("post message", err)
		}
		res.Parts++
		res.Chars += utf8.RuneCountInString(part)
	}

	slog.Info("posted", "thread_id", ref.ThreadID, "muse", muse, "parts", res.Parts)
	return res, nil
}

// thread resolves the target thread from the scene document or the link.
func (p *Poster) thread(ctx context.Context, req PostRequest) (threadref.Reference, error) {
	if req.ScenePath == "" {
		if strings.TrimSpace(req.Link) == "" {
			return threadref.Reference{}, p.invalid("", "either a scene or a thread link is required")
		}
		ref, err := threadref.Resolve(req.Link)
		if err != nil {
			return threadref.Reference{}, p.invalid("", "the link is not a thread address")
		}
		return ref, nil
	}

	scenePath := vault.Normalize(req.ScenePath)
	block, err := p.docs.FrontBlock(ctx, scenePath)
	if err != nil {
		reason := engine.SkipReadError
		if errors.Is(err, frontblock.ErrNotPresent) {
			reason = engine.SkipNoFrontBlock
		}
		return threadref.Reference{}, p.validation(scenePath, reason)
	}
	link, ok := block.Get(engine.KeyLink)
	if !ok || strings.TrimSpace(link.String()) == "" {
		return threadref.Reference{}, p.validation(scenePath, engine.SkipNoLink)
	}
	ref, err := threadref.Resolve(link.String())
	if err != nil {
		return threadref.Reference{}, p.validation(scenePath, engine.SkipInvalidLink)
	}
	return ref, nil
}

// muse finds the named muse among those visible to the identities. Names
// match case-insensitively; the bot's spelling is returned.
func (p *Poster) muse(ctx context.Context, identity, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", p.invalid("", "a muse is required")
	}

	ids := []string{identity}
	for _, id := range p.identities {
		if id != identity {
			ids = append(ids, id)
		}
	}
	muses, err := p.cache.Muses(ctx, p.remote, ids)
	if err != nil {
		return "", p.remoteFailed("list muses", err)
	}

	var known []string
	for _, m := range muses {
		if strings.EqualFold(m.Name, name) {
			return m.Name, nil
		}
		known = append(known, m.Name)
	}
	if len(known) == 0 {
		return "", p.invalid("", fmt.Sprintf("muse %q not found; this account has no muses", name))
	}
	return "", p.invalid("", fmt.Sprintf("muse %q not found; known muses: %s", name, strings.Join(engine.Personas(known), ", ")))
}

func (p *Poster) validation(path string, reason engine.SkipReason) error {
	err := &engine.ValidationError{Path: path, Reason: reason}
	p.notifier.Notify(engine.Notice{
		Kind:    engine.KindValidation,
		Path:    path,
		Message: err.Error(),
	})
	return err
}

func (p *Poster) invalid(path, msg string) error {
	p.notifier.Notify(engine.Notice{Kind: engine.KindValidation, Path: path, Message: msg})
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

func (p *Poster) remoteFailed(op string, err error) error {
	switch engine.KindOf(err) {
	case engine.KindAuth:
		p.notifier.Notify(engine.AuthNotice(op))
	case engine.KindQuiescent:
		p.notifier.Notify(engine.Notice{
			Kind:    engine.KindQuiescent,
			Op:      op,
			Message: "No API token is configured.",
		})
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Split breaks content into parts of at most limit characters. It cuts at
// the last paragraph break that fits, else the last line break, else the
// last space, else mid-word. Whitespace at the cut is dropped. A limit
// below 1 is treated as 1.
func Split(content string, limit int) []string {
	limit = max(limit, 1)
	var parts []string
	rest := strings.TrimSpace(content)
	for rest != "" {
		if utf8.RuneCountInString(rest) <= limit {
			parts = append(parts, rest)
			break
		}
		window := prefixRunes(rest, limit)
		cut := -1
		for _, sep := range []string{"\n\n", "\n", " "} {
			if i := strings.LastIndex(window, sep); i > 0 {
				cut = i
				break
			}
		}
		if cut < 0 {
			cut = len(window)
		}
		parts = append(parts, strings.TrimRightFunc(rest[:cut], isSpace))
		rest = strings.TrimLeftFunc(rest[cut:], isSpace)
	}
	return parts
}

// prefixRunes returns the longest prefix of s holding at most n runes.
func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\r' || r == '\t'
}
