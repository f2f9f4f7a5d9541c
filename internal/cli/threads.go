package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/scenekeeper/internal/threadref"
)

// ThreadOut is one tracked thread in the threads listing.
type ThreadOut struct {
	ThreadID     string `json:"thread_id"`
	Link         string `json:"link,omitempty"`
	Muse         string `json:"muse"`
	Participants int    `json:"participants"`
	Document     string `json:"document,omitempty"`
	// HasDocument is false when the bot names a document the vault lacks.
	HasDocument bool `json:"has_document"`
}

// NewThreadsCommand creates the threads command.
func NewThreadsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List the threads the bot tracks for you",
		Long: `List the threads the bot tracks for the token's account, with the scene
document each one is linked to. Documents the bot knows about but the vault
does not have are flagged.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreads(rootOpts, cmd)
		},
	}
	return cmd
}

func runThreads(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(opts, cmd, needRemote)
	if err != nil {
		return err
	}
	defer s.Close()

	self, err := s.cache.Identity(ctx, s.client)
	if err != nil {
		return s.remoteFail("failed to resolve identity", err)
	}
	threads, err := s.client.TrackedThreads(ctx, self)
	if err != nil {
		return s.remoteFail("failed to list tracked threads", err)
	}

	out := make([]ThreadOut, 0, len(threads))
	for _, t := range threads {
		entry := ThreadOut{
			ThreadID:     t.ThreadID.String(),
			Muse:         t.MuseName,
			Participants: t.Participants,
			Document:     t.DocumentPath,
		}
		if t.ContainerID != "" {
			entry.Link = threadref.Reference{ThreadID: entry.ThreadID, ContainerID: t.ContainerID.String()}.URL()
		}
		if t.DocumentPath != "" {
			entry.HasDocument = s.vault.Exists(t.DocumentPath)
		}
		out = append(out, entry)
	}

	if s.out.IsJSON() {
		return s.out.Respond(CLIResponse{Status: "ok", Data: out, Notices: s.notices.Notices()})
	}

	w := s.out.Writer
	if len(out) == 0 {
		fmt.Fprintln(w, "No tracked threads.")
		return nil
	}
	for _, t := range out {
		doc := "no document"
		switch {
		case t.Document != "" && t.HasDocument:
			doc = t.Document
		case t.Document != "":
			doc = t.Document + " (missing)"
		}
		fmt.Fprintf(w, "%s  %s  %d participant(s)  %s\n", t.ThreadID, t.Muse, t.Participants, doc)
		if t.Link != "" {
			s.out.VerboseLog("  %s", t.Link)
		}
	}
	return nil
}
