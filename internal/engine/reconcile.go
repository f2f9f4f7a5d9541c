package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/scenekeeper/internal/frontblock"
	"github.com/roach88/scenekeeper/internal/remote"
	"github.com/roach88/scenekeeper/internal/vault"
)

// DefaultParticipants is the participant count assumed when the server
// omits it.
const DefaultParticipants = 2

// Call sites that raise an auth notice at most once per pass.
const (
	opResolveIdentity = "resolve identity"
	opLinkedThreads   = "list linked threads"
	opThreadState     = "query thread state"
)

// Remote is the part of the bot API a pass reads from.
type Remote interface {
	IdentitySource
	LinkedThreads(ctx context.Context, userID string) ([]remote.LinkedThread, error)
	ThreadState(ctx context.Context, q remote.ThreadQuery) (remote.ThreadStatus, error)
}

// Documents is the document store a pass reads and writes.
type Documents interface {
	List(ctx context.Context) ([]string, error)
	FrontBlock(ctx context.Context, path string) (*frontblock.Block, error)
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, text string) error
}

// Observer is told about every finished pass.
type Observer interface {
	PassFinished(ctx context.Context, r PassResult)
}

// DocumentUpdate is one document rewritten by a pass.
type DocumentUpdate struct {
	Path     string
	ThreadID string
	Changes  []frontblock.Mutation
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	ID         string
	Seq        int64
	Trigger    Trigger
	Identity   string
	StartedAt  time.Time
	FinishedAt time.Time

	// Quiescent is set when the pass ended early because no identity was
	// available. Nothing else is populated then.
	Quiescent bool

	Linked    int // records in the linked-thread batch
	Examined  int
	Updated   int
	Skipped   int
	Untracked int
	Failed    int
	Updates   []DocumentUpdate

	// Err is set when the pass could not run to completion (the token was
	// rejected while listing linked threads, document listing failed, or the
	// context ended).
	Err error

	// BatchErr is set when the linked-thread batch could not be fetched for
	// any other reason. The pass still ran, resolving every document from
	// its own Link.
	BatchErr error
}

// Problem returns Err, or BatchErr when the pass ran without the batch.
func (r PassResult) Problem() error {
	if r.Err != nil {
		return r.Err
	}
	return r.BatchErr
}

// Outcome is a short label for the result: quiescent, error, partial or ok.
func (r PassResult) Outcome() string {
	switch {
	case r.Quiescent:
		return "quiescent"
	case r.Err != nil:
		return "error"
	case r.Failed > 0, r.BatchErr != nil:
		return "partial"
	}
	return "ok"
}

// Duration is the wall time the pass took.
func (r PassResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Reconciler runs reconciliation passes.
//
// A Reconciler holds no state between passes beyond the Cache it was given.
// Pass is safe to call from several goroutines; Engine serializes passes
// anyway.
type Reconciler struct {
	remote    Remote
	docs      Documents
	cache     *Cache
	notifier  Notifier
	observers []Observer
	ids       PassIDGenerator
	clock     *Clock
	now       func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithNotifier sets where user-facing notices go. Default: discarded.
func WithNotifier(n Notifier) ReconcilerOption {
	return func(r *Reconciler) {
		r.notifier = n
	}
}

// WithObserver adds an observer. Observers run in the order added.
func WithObserver(o Observer) ReconcilerOption {
	return func(r *Reconciler) {
		r.observers = append(r.observers, o)
	}
}

// WithPassIDGenerator replaces the UUIDv7 pass id generator.
func WithPassIDGenerator(g PassIDGenerator) ReconcilerOption {
	return func(r *Reconciler) {
		r.ids = g
	}
}

// WithClock sets the pass sequence clock, e.g. to resume numbering from the
// journal.
func WithClock(c *Clock) ReconcilerOption {
	return func(r *Reconciler) {
		r.clock = c
	}
}

// WithNow overrides the wall clock used for pass timestamps.
func WithNow(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler creates a Reconciler reading remote state from rem and
// documents from docs. cache is shared with anything else that needs the
// identity or muses, and is invalidated by its owner on credential change.
func NewReconciler(rem Remote, docs Documents, cache *Cache, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		remote:   rem,
		docs:     docs,
		cache:    cache,
		notifier: discardNotifier{},
		ids:      UUIDv7Generator{},
		clock:    NewClock(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the identity and muse cache the reconciler uses.
func (r *Reconciler) Cache() *Cache {
	return r.cache
}

// pass holds the per-pass bookkeeping.
type pass struct {
	trigger  Trigger
	identity string
	linked   map[string]remote.LinkedThread
	notified map[string]bool
	result   *PassResult
}

// Pass runs one reconciliation pass.
//
// The returned error equals PassResult.Err. A quiescent pass (no identity)
// is not an error. Per-document failures never abort the pass; they are
// logged and counted in PassResult.Failed.
func (r *Reconciler) Pass(ctx context.Context, trig Trigger) (PassResult, error) {
	res := PassResult{
		ID:        r.ids.Generate(),
		Seq:       r.clock.Next(),
		Trigger:   trig,
		StartedAt: r.now(),
	}
	if trig.Path != "" {
		res.Trigger.Path = vault.Normalize(trig.Path)
	}
	p := &pass{
		trigger:  res.Trigger,
		notified: make(map[string]bool),
		result:   &res,
	}

	r.run(ctx, p)

	res.FinishedAt = r.now()
	r.report(ctx, res)
	return res, res.Err
}

func (r *Reconciler) run(ctx context.Context, p *pass) {
	res := p.result

	// Stage 1: identity.
	identity, err := r.cache.Identity(ctx, r.remote)
	if err != nil {
		if KindOf(err) == KindAuth {
			r.notifyAuth(p, opResolveIdentity)
		} else if KindOf(err) != KindQuiescent {
			slog.Warn("identity resolution failed; skipping pass",
				"pass_id", res.ID,
				"error", err,
			)
		}
		res.Quiescent = true
		return
	}
	p.identity = identity
	res.Identity = identity

	// Stage 2: linked-thread batch.
	// A rejected token ends the pass: every later call would be rejected
	// too. Any other failure only loses the batch; documents fall back to
	// their own Link and Characters.
	batch, err := r.remote.LinkedThreads(ctx, identity)
	switch {
	case isCancelled(err):
		res.Err = err
		return
	case err != nil && KindOf(err) == KindAuth:
		r.notifyAuth(p, opLinkedThreads)
		res.Err = fmt.Errorf("%s: %w", opLinkedThreads, err)
		return
	case err != nil:
		res.BatchErr = fmt.Errorf("%s: %w", opLinkedThreads, err)
		slog.Warn("linked thread batch unavailable; resolving documents individually",
			"pass_id", res.ID,
			"identity", identity,
			"error", err,
		)
	}
	res.Linked = len(batch)
	if len(batch) == 0 && res.BatchErr == nil {
		slog.Debug("no linked threads; nothing to reconcile",
			"pass_id", res.ID,
			"identity", identity,
		)
		if p.trigger.UserInitiated() {
			r.notifier.Notify(Notice{
				Kind:    KindValidation,
				Op:      opLinkedThreads,
				Path:    p.trigger.Path,
				Message: "The bot has no scenes linked to this account yet.",
			})
		}
		return
	}

	// Stage 3: path lookup.
	p.linked = make(map[string]remote.LinkedThread, len(batch))
	for _, lt := range batch {
		if lt.DocumentPath == "" {
			continue
		}
		p.linked[vault.Normalize(lt.DocumentPath)] = lt
	}

	// Stage 4: documents.
	paths, err := r.candidates(ctx, p)
	if err != nil {
		res.Err = err
		return
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return
		}
		if err := r.reconcileDocument(ctx, p, path); err != nil && isCancelled(err) {
			res.Err = err
			return
		}
	}
}

func (r *Reconciler) candidates(ctx context.Context, p *pass) ([]string, error) {
	if p.trigger.Scoped() {
		return []string{p.trigger.Path}, nil
	}
	paths, err := r.docs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return paths, nil
}

// reconcileDocument evaluates one document. It only returns an error when
// the context ended; every other failure is counted and logged.
func (r *Reconciler) reconcileDocument(ctx context.Context, p *pass, path string) error {
	res := p.result
	res.Examined++

	block, err := r.docs.FrontBlock(ctx, path)
	if isCancelled(err) {
		return err
	}
	cls := Classify(block, err)
	if cls.Skip {
		r.skipped(p, path, cls.Reason, err)
		return nil
	}

	threadID := cls.Ref.ThreadID
	personas := cls.Personas
	if lt, ok := p.linked[vault.Normalize(path)]; ok {
		linkedPersonas := Personas(lt.Characters)
		if len(linkedPersonas) == 0 {
			r.skipped(p, path, SkipLinkedNoMuses, nil)
			return nil
		}
		if lt.ThreadID.String() != "" {
			if lt.ThreadID.String() != cls.Ref.ThreadID {
				slog.Warn("linked thread disagrees with document link",
					"pass_id", res.ID,
					"path", path,
					"linked_thread_id", lt.ThreadID.String(),
					"document_thread_id", cls.Ref.ThreadID,
				)
			}
			threadID = lt.ThreadID.String()
		}
		personas = linkedPersonas
	}

	status, err := r.remote.ThreadState(ctx, remote.ThreadQuery{
		ThreadID:   threadID,
		Characters: personas,
		UserID:     p.identity,
	})
	if err != nil {
		if isCancelled(err) {
			return err
		}
		if KindOf(err) == KindAuth {
			r.notifyAuth(p, opThreadState)
		}
		res.Failed++
		slog.Warn("thread state query failed",
			"pass_id", res.ID,
			"path", path,
			"thread_id", threadID,
			"error", err,
		)
		return nil
	}
	if !status.Tracked || status.State == nil {
		res.Untracked++
		slog.Debug("thread not tracked; leaving document alone",
			"pass_id", res.ID,
			"path", path,
			"thread_id", threadID,
		)
		return nil
	}

	return r.apply(ctx, p, path, threadID, *status.State)
}

// apply rewrites the owned keys of path from state. The text is re-read and
// re-classified so a document edited since enumeration is judged as it is
// now.
func (r *Reconciler) apply(ctx context.Context, p *pass, path, threadID string, state remote.ThreadState) error {
	res := p.result

	text, err := r.docs.Read(ctx, path)
	if err != nil {
		if isCancelled(err) {
			return err
		}
		res.Failed++
		slog.Warn("reading document failed", "pass_id", res.ID, "path", path, "error", err)
		return nil
	}
	block, err := frontblock.Parse(text)
	if cls := Classify(block, err); cls.Skip {
		r.skipped(p, path, cls.Reason, err)
		return nil
	}

	changes := computeMutations(block, state)
	if len(changes) == 0 {
		return nil
	}

	updated, err := frontblock.Set(text, changes)
	if err != nil {
		res.Failed++
		slog.Warn("rewriting front-block failed", "pass_id", res.ID, "path", path, "error", err)
		return nil
	}
	if err := r.docs.Write(ctx, path, updated); err != nil {
		if isCancelled(err) {
			return err
		}
		res.Failed++
		slog.Warn("writing document failed", "pass_id", res.ID, "path", path, "error", err)
		return nil
	}

	res.Updated++
	res.Updates = append(res.Updates, DocumentUpdate{
		Path:     path,
		ThreadID: threadID,
		Changes:  changes,
	})
	slog.Info("scene updated",
		"pass_id", res.ID,
		"path", path,
		"thread_id", threadID,
		"changes", len(changes),
	)
	return nil
}

func (r *Reconciler) skipped(p *pass, path string, reason SkipReason, cause error) {
	p.result.Skipped++
	if p.trigger.UserInitiated() {
		r.notifier.Notify(Notice{
			Kind:    KindValidation,
			Path:    path,
			Message: (&ValidationError{Path: path, Reason: reason}).Error(),
		})
	}
	attrs := []any{"pass_id", p.result.ID, "path", path, "reason", string(reason)}
	if cause != nil && !errors.Is(cause, frontblock.ErrNotPresent) {
		attrs = append(attrs, "error", cause)
	}
	slog.Debug("document skipped", attrs...)
}

func (r *Reconciler) notifyAuth(p *pass, op string) {
	if p.notified[op] {
		return
	}
	p.notified[op] = true
	slog.Error("api token rejected", "pass_id", p.result.ID, "op", op)
	r.notifier.Notify(AuthNotice(op))
}

func (r *Reconciler) report(ctx context.Context, res PassResult) {
	if res.Quiescent {
		slog.Debug("pass skipped: not configured",
			"pass_id", res.ID,
			"trigger", res.Trigger.Source.String(),
		)
	} else {
		slog.Info("reconciliation pass finished",
			"pass_id", res.ID,
			"seq", res.Seq,
			"trigger", res.Trigger.Source.String(),
			"examined", res.Examined,
			"updated", res.Updated,
			"skipped", res.Skipped,
			"untracked", res.Untracked,
			"failed", res.Failed,
			"outcome", res.Outcome(),
		)
	}
	for _, o := range r.observers {
		o.PassFinished(ctx, res)
	}
}

// computeMutations returns the owned-key writes needed to bring block in
// line with state. An absent or unreadable "Replied?" counts as false; an
// absent or unreadable "Participants" always needs writing.
func computeMutations(block *frontblock.Block, state remote.ThreadState) []frontblock.Mutation {
	var changes []frontblock.Mutation

	current := false
	if v, ok := block.Get(KeyReplied); ok {
		if b, known := v.Bool(); known {
			current = b
		}
	}
	if current != state.Replied {
		changes = append(changes, frontblock.Mutation{Key: KeyReplied, Value: state.Replied})
	}

	want := targetParticipants(state.Participants)
	have, ok := 0, false
	if v, present := block.Get(KeyParticipants); present {
		have, ok = v.Int()
	}
	if !ok || have != want {
		changes = append(changes, frontblock.Mutation{Key: KeyParticipants, Value: want})
	}

	return changes
}

func targetParticipants(n *int) int {
	if n == nil {
		return DefaultParticipants
	}
	return max(*n, 1)
}
