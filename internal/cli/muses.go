package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// MuseOut is one muse in the muses listing.
type MuseOut struct {
	Name    string   `json:"name"`
	Trigger string   `json:"trigger"`
	Tags    []string `json:"tags,omitempty"`
	OwnerID string   `json:"owner_id"`
	Shared  bool     `json:"shared"`
}

// NewMusesCommand creates the muses command.
func NewMusesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "muses",
		Short: "List the muses you can post as",
		Long: `List the muses available to the token's account and to any extra
identities in the config, as the bot reports them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMuses(rootOpts, cmd)
		},
	}
	return cmd
}

func runMuses(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(opts, cmd, needRemote)
	if err != nil {
		return err
	}
	defer s.Close()

	ids, err := s.identities(ctx)
	if err != nil {
		return s.remoteFail("failed to resolve identity", err)
	}
	muses, err := s.cache.Muses(ctx, s.client, ids)
	if err != nil {
		return s.remoteFail("failed to list muses", err)
	}

	out := make([]MuseOut, 0, len(muses))
	for _, m := range muses {
		out = append(out, MuseOut{
			Name:    m.Name,
			Trigger: m.Trigger,
			Tags:    m.Tags,
			OwnerID: m.OwnerID.String(),
			Shared:  m.IsShared,
		})
	}

	if s.out.IsJSON() {
		return s.out.Respond(CLIResponse{Status: "ok", Data: out, Notices: s.notices.Notices()})
	}

	w := s.out.Writer
	if len(out) == 0 {
		fmt.Fprintln(w, "No muses.")
		return nil
	}
	for _, m := range out {
		line := m.Name
		if m.Trigger != "" {
			line += " [" + m.Trigger + "]"
		}
		if m.Shared {
			line += " (shared)"
		}
		if len(m.Tags) > 0 && s.out.Verbose {
			line += " " + strings.Join(m.Tags, ", ")
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
