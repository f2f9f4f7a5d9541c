package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/scenekeeper/internal/config"
	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/remote"
	"github.com/roach88/scenekeeper/internal/store"
	"github.com/roach88/scenekeeper/internal/vault"
)

// NoticeOut is a notice as reported in JSON output.
type NoticeOut struct {
	Kind    string `json:"kind"`
	Op      string `json:"op,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// noticePrinter delivers notices to the terminal. Text mode prints each to
// stderr as it arrives; JSON mode only collects them for the response.
type noticePrinter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
	got  []NoticeOut
}

func (p *noticePrinter) Notify(n engine.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, NoticeOut{Kind: n.Kind.String(), Op: n.Op, Path: n.Path, Message: n.Message})
	if p.json {
		return
	}
	if n.Path != "" {
		fmt.Fprintf(p.w, "! %s: %s\n", n.Path, n.Message)
		return
	}
	fmt.Fprintf(p.w, "! %s\n", n.Message)
}

func (p *noticePrinter) Notices() []NoticeOut {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]NoticeOut(nil), p.got...)
}

// notifiers fans a notice out.
type notifiers []engine.Notifier

func (ns notifiers) Notify(n engine.Notice) {
	for _, x := range ns {
		x.Notify(n)
	}
}

// needs says which collaborators a command opens.
type needs int

const (
	needRemote needs = 1 << iota
	needJournal
)

// session is everything a command works with, built from the config.
type session struct {
	opts    *RootOptions
	cfg     *config.Config
	out     *OutputFormatter
	notices *noticePrinter

	vault   *vault.Vault
	client  *remote.Client // nil unless needRemote
	cache   *engine.Cache  // nil unless needRemote
	journal *store.Store   // nil unless needJournal
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openSession loads the config, installs the logger and opens what the
// command needs. Failures are reported and returned as ExitErrors.
func openSession(opts *RootOptions, cmd *cobra.Command, n needs) (*session, error) {
	out := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	setupLogging(cmd.ErrOrStderr(), cfg, opts.Verbose)
	if cfg.Path == "" {
		out.VerboseLog("No config file at %s; using defaults and environment", opts.ConfigPath)
	}

	s := &session{
		opts:    opts,
		cfg:     cfg,
		out:     out,
		notices: &noticePrinter{w: cmd.ErrOrStderr(), json: out.IsJSON()},
	}

	s.vault, err = vault.Open(cfg.Vault, cfg.ScenesFolder)
	if err != nil {
		return nil, out.fail(ExitCommandError, ErrCodeNotFound, "failed to open vault", err)
	}

	if n&needRemote != 0 {
		if err := cfg.RequireAPIURL(); err != nil {
			return nil, out.fail(ExitCommandError, ErrCodeConfig, "cannot reach the bot", err)
		}
		s.client, err = remote.New(remote.Options{
			BaseURL:   cfg.APIURL,
			Token:     cfg.Token,
			Timeout:   cfg.RequestTimeout,
			RateLimit: cfg.RateLimit,
			RateBurst: cfg.RateBurst,
			UserAgent: "scenekeeper/" + Version,
		})
		if err != nil {
			return nil, out.fail(ExitCommandError, ErrCodeConfig, "invalid api_url", err)
		}
		s.cache = engine.NewCache(cfg.Token)
	}

	if n&needJournal != 0 {
		if cfg.Database != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
				return nil, out.fail(ExitCommandError, ErrCodeJournal, "failed to create journal folder", err)
			}
		}
		s.journal, err = store.Open(cfg.Database)
		if err != nil {
			return nil, out.fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
	}
	return s, nil
}

// Close releases the journal.
func (s *session) Close() {
	if s.journal == nil {
		return
	}
	if err := s.journal.Close(); err != nil {
		slog.Error("error closing journal", "error", err)
	}
}

// reconciler builds a reconciler over the vault and the bot API. Pass
// numbering resumes after the last journaled pass.
func (s *session) reconciler(ctx context.Context, opts ...engine.ReconcilerOption) *engine.Reconciler {
	clock := engine.NewClock()
	if s.journal != nil {
		seq, err := s.journal.LastSeq(ctx)
		if err != nil {
			slog.Warn("could not read last pass number; numbering from 1", "error", err)
		} else {
			clock = engine.NewClockAt(seq)
		}
	}

	base := []engine.ReconcilerOption{
		engine.WithClock(clock),
		engine.WithNotifier(s.notices),
	}
	if s.journal != nil {
		base = append(base, engine.WithObserver(s.journal))
	}
	return engine.NewReconciler(s.client, s.vault, s.cache, append(base, opts...)...)
}

// identities returns the token's identity followed by the configured
// extra identities, without duplicates.
func (s *session) identities(ctx context.Context) ([]string, error) {
	self, err := s.cache.Identity(ctx, s.client)
	if err != nil {
		return nil, err
	}
	ids := []string{self}
	for _, id := range s.cfg.Identities {
		if id != self {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// docPath maps a command-line document argument to a vault path. An
// existing file inside the vault is accepted as a filesystem path;
// anything else is taken as vault-relative.
func (s *session) docPath(arg string) string {
	if abs, err := filepath.Abs(arg); err == nil {
		if _, err := os.Stat(abs); err == nil {
			if rel, ok := s.vault.Rel(abs); ok {
				return rel
			}
		}
	}
	return vault.Normalize(arg)
}

// remoteFail reports a bot API failure with the code matching its kind.
func (s *session) remoteFail(message string, err error) error {
	switch engine.KindOf(err) {
	case engine.KindAuth:
		return s.out.fail(ExitFailure, ErrCodeAuth, message, err)
	case engine.KindQuiescent:
		if !s.cfg.HasCredential() {
			return s.out.fail(ExitFailure, ErrCodeNoCredential, "no API token is configured", nil)
		}
		return s.out.fail(ExitFailure, ErrCodeRemote, message, err)
	case engine.KindValidation:
		return s.out.fail(ExitCommandError, ErrCodeInvalid, message, err)
	}
	return s.out.fail(ExitFailure, ErrCodeRemote, message, err)
}

// setupLogging installs a text handler on w at the configured level, or
// Debug with --verbose.
func setupLogging(w io.Writer, cfg *config.Config, verbose bool) {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
