package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/scenekeeper/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Limit int
	Posts bool
}

// StatusPass is one journaled pass as reported by status.
type StatusPass struct {
	ID         string         `json:"id"`
	Seq        int64          `json:"seq"`
	Trigger    string         `json:"trigger"`
	Path       string         `json:"path,omitempty"`
	Outcome    string         `json:"outcome"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMS int64          `json:"duration_ms"`
	Examined   int            `json:"examined"`
	Updated    int            `json:"updated"`
	Skipped    int            `json:"skipped"`
	Untracked  int            `json:"untracked"`
	Failed     int            `json:"failed"`
	Error      string         `json:"error,omitempty"`
	Updates    []StatusUpdate `json:"updates,omitempty"`
}

// StatusUpdate is one document rewrite within a pass.
type StatusUpdate struct {
	Path     string         `json:"path"`
	ThreadID string         `json:"thread_id"`
	Changes  map[string]any `json:"changes"`
}

// StatusPost is one journaled post.
type StatusPost struct {
	ThreadID string    `json:"thread_id"`
	Muse     string    `json:"muse"`
	Document string    `json:"document,omitempty"`
	Parts    int       `json:"parts"`
	Chars    int       `json:"chars"`
	PostedAt time.Time `json:"posted_at"`
	Error    string    `json:"error,omitempty"`
}

// StatusResult holds status output.
type StatusResult struct {
	Journal      string       `json:"journal"`
	JournalBytes uint64       `json:"journal_bytes"`
	Passes       []StatusPass `json:"passes"`
	Posts        []StatusPost `json:"posts,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent reconciliation passes from the journal",
		Long: `Show the most recent reconciliation passes recorded in the journal,
newest first. Reads only the local journal; the bot is not contacted, and
the daemon may keep running.

With --verbose each pass lists the documents it rewrote. With --posts the
recent posts are listed too.

Examples:
  scenekeeper status
  scenekeeper status --limit 50 --verbose
  scenekeeper status --posts --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "number of passes to show")
	cmd.Flags().BoolVar(&opts.Posts, "posts", false, "also list recent posts")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Limit <= 0 {
		return newFormatter(opts.RootOptions, cmd).fail(ExitCommandError, ErrCodeInvalid, "--limit must be positive", nil)
	}

	s, err := openSession(opts.RootOptions, cmd, needJournal)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := loadStatus(ctx, s.journal, opts)
	if err != nil {
		return s.out.fail(ExitFailure, ErrCodeJournal, "failed to read journal", err)
	}
	result.Journal = s.cfg.Database
	if fi, err := os.Stat(s.cfg.Database); err == nil {
		result.JournalBytes = uint64(fi.Size())
	}

	if s.out.IsJSON() {
		return s.out.Respond(CLIResponse{Status: "ok", Data: result})
	}
	printStatus(s.out, result, time.Now())
	return nil
}

func loadStatus(ctx context.Context, j *store.Store, opts *StatusOptions) (StatusResult, error) {
	passes, err := j.RecentPasses(ctx, opts.Limit)
	if err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{Passes: make([]StatusPass, 0, len(passes))}
	for _, p := range passes {
		sp := StatusPass{
			ID:         p.ID,
			Seq:        p.Seq,
			Trigger:    p.Trigger,
			Path:       p.Path,
			Outcome:    p.Outcome,
			FinishedAt: p.FinishedAt,
			DurationMS: p.Duration().Milliseconds(),
			Examined:   p.Examined,
			Updated:    p.Updated,
			Skipped:    p.Skipped,
			Untracked:  p.Untracked,
			Failed:     p.Failed,
			Error:      p.Error,
		}
		if opts.Verbose && p.Updated > 0 {
			updates, err := j.UpdatesForPass(ctx, p.ID)
			if err != nil {
				return StatusResult{}, err
			}
			for _, u := range updates {
				changes := make(map[string]any, len(u.Changes))
				for _, c := range u.Changes {
					changes[c.Key] = c.Value
				}
				sp.Updates = append(sp.Updates, StatusUpdate{Path: u.Path, ThreadID: u.ThreadID, Changes: changes})
			}
		}
		result.Passes = append(result.Passes, sp)
	}

	if opts.Posts {
		posts, err := j.RecentPosts(ctx, opts.Limit)
		if err != nil {
			return StatusResult{}, err
		}
		for _, p := range posts {
			result.Posts = append(result.Posts, StatusPost{
				ThreadID: p.ThreadID,
				Muse:     p.MuseName,
				Document: p.DocumentPath,
				Parts:    p.Parts,
				Chars:    p.Chars,
				PostedAt: p.PostedAt,
				Error:    p.Error,
			})
		}
	}
	return result, nil
}

func printStatus(f *OutputFormatter, r StatusResult, now time.Time) {
	w := f.Writer
	f.VerboseLog("Journal %s (%s)", r.Journal, humanize.Bytes(r.JournalBytes))

	if len(r.Passes) == 0 {
		fmt.Fprintln(w, "No passes recorded yet.")
	}
	for _, p := range r.Passes {
		scope := p.Trigger
		if p.Path != "" {
			scope += " " + p.Path
		}
		fmt.Fprintf(w, "#%d %-7s %s, %s: updated %d of %d",
			p.Seq, p.Outcome, humanize.RelTime(p.FinishedAt, now, "ago", "from now"), scope, p.Updated, p.Examined)
		if p.Failed > 0 {
			fmt.Fprintf(w, ", %d failed", p.Failed)
		}
		fmt.Fprintln(w)
		if p.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", p.Error)
		}
		for _, u := range p.Updates {
			fmt.Fprintf(w, "    %s: %s\n", u.Path, formatChanges(u.Changes))
		}
	}

	if len(r.Posts) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Recent posts:")
		for _, p := range r.Posts {
			state := fmt.Sprintf("%d part(s), %s chars", p.Parts, humanize.Comma(int64(p.Chars)))
			if p.Error != "" {
				state += ", failed: " + p.Error
			}
			target := p.ThreadID
			if p.Document != "" {
				target = p.Document
			}
			fmt.Fprintf(w, "  %s as %s, %s (%s)\n", target, p.Muse,
				humanize.RelTime(p.PostedAt, now, "ago", "from now"), state)
		}
	}
}
