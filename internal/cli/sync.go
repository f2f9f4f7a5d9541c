package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/frontblock"
	"github.com/roach88/scenekeeper/internal/remote"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Path string
}

// SyncResult is the JSON payload of the sync command.
type SyncResult struct {
	PassID     string       `json:"pass_id"`
	Seq        int64        `json:"seq"`
	Path       string       `json:"path,omitempty"`
	Outcome    string       `json:"outcome"`
	Linked     int          `json:"linked"`
	Examined   int          `json:"examined"`
	Updated    int          `json:"updated"`
	Skipped    int          `json:"skipped"`
	Untracked  int          `json:"untracked"`
	Failed     int          `json:"failed"`
	DurationMS int64        `json:"duration_ms"`
	Updates    []SyncUpdate `json:"updates,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// SyncUpdate is one rewritten document.
type SyncUpdate struct {
	Path     string         `json:"path"`
	ThreadID string         `json:"thread_id"`
	Changes  map[string]any `json:"changes"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass",
		Long: `Run one reconciliation pass now and report what changed.

Without --path every document in the scenes folder is a candidate. With
--path only that document is reconciled, and any reason it was skipped is
reported.

Examples:
  scenekeeper sync
  scenekeeper sync --path "Scenes/Lighthouse.md"
  scenekeeper sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Path, "path", "p", "", "reconcile only this document")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(opts.RootOptions, cmd, needRemote|needJournal)
	if err != nil {
		return err
	}
	defer s.Close()

	trig := engine.Trigger{Source: engine.TriggerManual}
	if opts.Path != "" {
		trig.Path = s.docPath(opts.Path)
	}

	res, _ := s.reconciler(ctx).Pass(ctx, trig)
	result := syncResult(res)

	exit := syncExit(s, res)
	if s.out.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: result, Notices: s.notices.Notices()}
		if exit != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: exit.code, Message: exit.message}
		}
		if err := s.out.Respond(resp); err != nil {
			return err
		}
	} else {
		printSync(s.out, result, res.Quiescent)
		if exit != nil {
			fmt.Fprintf(s.out.GetErrWriter(), "Error [%s]: %s\n", exit.code, exit.message)
		}
	}

	if exit == nil {
		return nil
	}
	e := WrapExitError(ExitFailure, fmt.Sprintf("%s: %s", exit.code, exit.message), res.Problem())
	e.Reported = true
	return e
}

type syncFailure struct {
	code    string
	message string
}

// syncExit maps a pass outcome to a failure, or nil for success.
func syncExit(s *session, res engine.PassResult) *syncFailure {
	switch res.Outcome() {
	case "quiescent":
		if !s.cfg.HasCredential() {
			return &syncFailure{ErrCodeNoCredential, "no API token is configured"}
		}
		return &syncFailure{ErrCodeRemote, "could not resolve the token's identity"}
	case "error":
		if remote.IsUnauthorized(res.Err) {
			return &syncFailure{ErrCodeAuth, "the bot rejected the API token"}
		}
		return &syncFailure{ErrCodeRemote, "pass failed"}
	case "partial":
		if res.Failed == 0 {
			return &syncFailure{ErrCodeRemote, "the linked scene list was unavailable; documents were matched by their own Link"}
		}
		return &syncFailure{ErrCodeGeneric, fmt.Sprintf("%d document(s) could not be reconciled", res.Failed)}
	}
	return nil
}

func syncResult(res engine.PassResult) SyncResult {
	out := SyncResult{
		PassID:     res.ID,
		Seq:        res.Seq,
		Path:       res.Trigger.Path,
		Outcome:    res.Outcome(),
		Linked:     res.Linked,
		Examined:   res.Examined,
		Updated:    res.Updated,
		Skipped:    res.Skipped,
		Untracked:  res.Untracked,
		Failed:     res.Failed,
		DurationMS: res.Duration().Milliseconds(),
	}
	if err := res.Problem(); err != nil {
		out.Error = err.Error()
	}
	for _, u := range res.Updates {
		out.Updates = append(out.Updates, SyncUpdate{Path: u.Path, ThreadID: u.ThreadID, Changes: mutationsToMap(u.Changes)})
	}
	return out
}

func printSync(f *OutputFormatter, r SyncResult, quiescent bool) {
	w := f.Writer
	if quiescent {
		fmt.Fprintln(w, "Nothing to do: not connected to the bot.")
		return
	}
	fmt.Fprintf(w, "Updated %d of %d document(s)", r.Updated, r.Examined)
	fmt.Fprintf(w, " (linked %d, skipped %d, untracked %d, failed %d)\n", r.Linked, r.Skipped, r.Untracked, r.Failed)
	for _, u := range r.Updates {
		fmt.Fprintf(w, "  %s: %s\n", u.Path, formatChanges(u.Changes))
	}
	f.VerboseLog("Pass %d (%s) took %dms", r.Seq, r.PassID, r.DurationMS)
}

// formatChanges renders key=value pairs with the owned keys first.
func formatChanges(changes map[string]any) string {
	parts := make([]string, 0, len(changes))
	for _, key := range []string{engine.KeyReplied, engine.KeyParticipants} {
		if v, ok := changes[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, ", ")
}

// mutationsToMap converts key changes for output.
func mutationsToMap(changes []frontblock.Mutation) map[string]any {
	out := make(map[string]any, len(changes))
	for _, c := range changes {
		out[c.Key] = c.Value
	}
	return out
}
