package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scenekeeper/internal/engine"
)

// Document states reported by check.
const (
	CheckReady   = "ready"
	CheckSkipped = "skipped"
	CheckProblem = "problem"
)

// CheckEntry is the verdict on one document.
type CheckEntry struct {
	Path       string   `json:"path"`
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	Message    string   `json:"message,omitempty"`
	ThreadID   string   `json:"thread_id,omitempty"`
	Characters []string `json:"characters,omitempty"`
}

// CheckResult holds check results.
type CheckResult struct {
	Documents int          `json:"documents"`
	Ready     int          `json:"ready"`
	Skipped   int          `json:"skipped"`
	Problems  int          `json:"problems"`
	Entries   []CheckEntry `json:"entries"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check scene documents without contacting the bot",
		Long: `Classify every document in the scenes folder the way a reconciliation
pass would, without contacting the bot or writing anything.

Documents that are deliberately out of scope (no front-block, no Link,
"Is Active?: false") are reported as skipped. Documents that look like
scenes but cannot be reconciled (unreadable, a Link that is not a thread
address) are problems and make the command fail.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, cmd)
		},
	}

	return cmd
}

func runCheck(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(opts, cmd, 0)
	if err != nil {
		return err
	}
	defer s.Close()

	paths, err := s.vault.List(ctx)
	if err != nil {
		return s.out.fail(ExitCommandError, ErrCodeNotFound, "failed to list documents", err)
	}
	s.out.VerboseLog("Found %d document(s) in %s", len(paths), s.vault.Folder())

	result := CheckResult{Documents: len(paths), Entries: make([]CheckEntry, 0, len(paths))}
	for _, p := range paths {
		entry := checkDocument(ctx, s, p)
		switch entry.Status {
		case CheckReady:
			result.Ready++
		case CheckSkipped:
			result.Skipped++
		case CheckProblem:
			result.Problems++
		}
		result.Entries = append(result.Entries, entry)
	}

	if s.out.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if result.Problems > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeAttention, Message: attentionMessage(result.Problems)}
		}
		if err := s.out.Respond(resp); err != nil {
			return err
		}
	} else {
		printCheck(s.out, result)
	}

	if result.Problems > 0 {
		e := NewExitError(ExitFailure, attentionMessage(result.Problems))
		e.Reported = true
		return e
	}
	return nil
}

func checkDocument(ctx context.Context, s *session, p string) CheckEntry {
	block, err := s.vault.FrontBlock(ctx, p)
	c := engine.Classify(block, err)
	if !c.Skip {
		return CheckEntry{
			Path:       p,
			Status:     CheckReady,
			ThreadID:   c.Ref.ThreadID,
			Characters: c.Personas,
		}
	}

	status := CheckSkipped
	if isProblem(c.Reason) {
		status = CheckProblem
	}
	return CheckEntry{
		Path:    p,
		Status:  status,
		Reason:  string(c.Reason),
		Message: c.Reason.Message(),
	}
}

// isProblem reports whether a skip reason points at a broken scene rather
// than a document that is not meant to be one.
func isProblem(r engine.SkipReason) bool {
	switch r {
	case engine.SkipInvalidLink, engine.SkipReadError, engine.SkipNoCharacters:
		return true
	}
	return false
}

func attentionMessage(n int) string {
	return fmt.Sprintf("%d document(s) need attention", n)
}

func printCheck(f *OutputFormatter, r CheckResult) {
	w := f.Writer
	for _, e := range r.Entries {
		switch e.Status {
		case CheckReady:
			fmt.Fprintf(w, "✓ %s → thread %s (%s)\n", e.Path, e.ThreadID, strings.Join(e.Characters, ", "))
		case CheckProblem:
			fmt.Fprintf(w, "✗ %s: %s\n", e.Path, e.Message)
		default:
			if f.Verbose {
				fmt.Fprintf(w, "- %s: %s\n", e.Path, e.Message)
			}
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d document(s): %d ready, %d skipped, %d need attention\n",
		r.Documents, r.Ready, r.Skipped, r.Problems)
}
