package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/frontblock"
	"github.com/roach88/scenekeeper/internal/remote"
	"github.com/roach88/scenekeeper/internal/threadref"
	"github.com/roach88/scenekeeper/internal/vault"
)

// Registrar is the part of the bot API scene creation uses.
type Registrar interface {
	engine.IdentitySource
	RegisterScene(ctx context.Context, r remote.SceneRegistration) error
	TrackThread(ctx context.Context, threadID, userID, containerID string) error
}

// Creator is the document store scene creation writes to.
type Creator interface {
	EnsureFolder(ctx context.Context, p string) error
	Create(ctx context.Context, p, text string) error
}

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// Request describes a scene to create.
type Request struct {
	Muse         string
	Link         string
	Name         string
	Folder       string // vault-relative; empty means the configured scenes folder
	Participants int    // zero means engine.DefaultParticipants
}

// Result describes a created scene. The document exists whenever the error
// from CreateScene is nil, even if Registered is false.
type Result struct {
	Path       string
	Ref        threadref.Reference
	Registered bool
	Tracked    bool
}

// Provisioner creates scene documents.
type Provisioner struct {
	remote   Registrar
	docs     Creator
	cache    *engine.Cache
	folder   string
	notifier engine.Notifier
	now      func() time.Time
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithProvisionNotifier sets where notices go.
func WithProvisionNotifier(n engine.Notifier) ProvisionerOption {
	return func(p *Provisioner) { p.notifier = n }
}

// WithProvisionClock overrides the clock used for the Created date.
func WithProvisionClock(now func() time.Time) ProvisionerOption {
	return func(p *Provisioner) { p.now = now }
}

// NewProvisioner creates a Provisioner writing into folder by default.
func NewProvisioner(r Registrar, docs Creator, cache *engine.Cache, folder string, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		remote:   r,
		docs:     docs,
		cache:    cache,
		folder:   folder,
		notifier: engine.NotifierFunc(func(engine.Notice) {}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateScene writes a new scene document and links it to its thread on the
// bot.
//
// The document is written first. If registration with the bot then fails,
// the document is kept and a notice says the link failed; CreateScene still
// returns nil. Thread tracking is best-effort: the bot cannot see every
// thread, so a failure there is only logged.
func (p *Provisioner) CreateScene(ctx context.Context, req Request) (Result, error) {
	muse := strings.TrimSpace(req.Muse)
	if muse == "" {
		return Result{}, fmt.Errorf("%w: a muse is required", ErrInvalidRequest)
	}
	name, err := documentName(req.Name)
	if err != nil {
		return Result{}, err
	}
	ref, err := threadref.Resolve(req.Link)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	participants := req.Participants
	if participants == 0 {
		participants = engine.DefaultParticipants
	}
	if participants < 1 {
		return Result{}, fmt.Errorf("%w: participants must be at least 1", ErrInvalidRequest)
	}

	folder := vault.Normalize(req.Folder)
	if req.Folder == "" {
		folder = vault.Normalize(p.folder)
	}
	docPath := vault.Normalize(path.Join(folder, name))

	text, err := frontblock.Render([]frontblock.Mutation{
		{Key: engine.KeyLink, Value: ref.URL()},
		{Key: engine.KeyCharacters, Value: []string{muse}},
		{Key: engine.KeyParticipants, Value: participants},
		{Key: engine.KeyReplied, Value: false},
		{Key: engine.KeyCreated, Value: p.now()},
	})
	if err != nil {
		return Result{}, fmt.Errorf("render scene: %w", err)
	}

	if folder != "" {
		if err := p.docs.EnsureFolder(ctx, folder); err != nil {
			return Result{}, err
		}
	}
	if err := p.docs.Create(ctx, docPath, text); err != nil {
		return Result{}, err
	}
	slog.Info("scene created", "path", docPath, "thread_id", ref.ThreadID, "muse", muse)

	res := Result{Path: docPath, Ref: ref}

	identity, err := p.cache.Identity(ctx, p.remote)
	if err != nil {
		p.linkFailed(docPath, "resolve identity", err)
		return res, nil
	}

	err = p.remote.RegisterScene(ctx, remote.SceneRegistration{
		ThreadID:     ref.ThreadID,
		UserID:       identity,
		DocumentPath: docPath,
		Characters:   []string{muse},
		Participants: participants,
		ContainerID:  ref.ContainerID,
	})
	if err != nil {
		p.linkFailed(docPath, "register scene", err)
	} else {
		res.Registered = true
	}

	if err := p.remote.TrackThread(ctx, ref.ThreadID, identity, ref.ContainerID); err != nil {
		level := slog.LevelWarn
		if remote.IsClientError(err) {
			level = slog.LevelInfo
		}
		slog.Log(ctx, level, "thread tracking not available",
			"thread_id", ref.ThreadID,
			"error", err,
		)
	} else {
		res.Tracked = true
	}

	return res, nil
}

func (p *Provisioner) linkFailed(docPath, op string, err error) {
	slog.Warn("scene created but not linked", "path", docPath, "op", op, "error", err)
	switch engine.KindOf(err) {
	case engine.KindAuth:
		p.notifier.Notify(engine.AuthNotice(op))
		return
	case engine.KindQuiescent:
		p.notifier.Notify(engine.Notice{
			Kind:    engine.KindQuiescent,
			Op:      op,
			Path:    docPath,
			Message: fmt.Sprintf("Created %s, but no API token is configured, so the bot does not know about it yet.", docPath),
		})
		return
	}
	p.notifier.Notify(engine.Notice{
		Kind:    engine.KindTransport,
		Op:      op,
		Path:    docPath,
		Message: fmt.Sprintf("Created %s, but linking it to the bot failed: %v", docPath, err),
	})
}

// documentName validates a scene name and gives it the document extension.
func documentName(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, vault.DocumentExt)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: a scene name is required", ErrInvalidRequest)
	case strings.ContainsAny(name, `/\:*?"<>|`):
		return "", fmt.Errorf("%w: scene name %q contains a character not allowed in file names", ErrInvalidRequest, name)
	case strings.HasPrefix(name, "."):
		return "", fmt.Errorf("%w: scene name %q would be a hidden file", ErrInvalidRequest, name)
	}
	return name + vault.DocumentExt, nil
}
