package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/scenekeeper/internal/scene"
	"github.com/roach88/scenekeeper/internal/vault"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Muse         string
	Link         string
	Name         string
	Folder       string
	Participants int
}

// CreateResult is the JSON payload of the create command.
type CreateResult struct {
	Path       string `json:"path"`
	ThreadID   string `json:"thread_id"`
	Link       string `json:"link"`
	Registered bool   `json:"registered"`
	Tracked    bool   `json:"tracked"`
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scene document for a thread",
		Long: `Create a scene document with a complete front-block and link it to its
thread on the bot.

The document is written first. If the bot cannot be reached, the document
is kept and a notice says so; the next reconciliation pass picks it up once
the bot knows the thread.

Examples:
  scenekeeper create --muse Ada --name Lighthouse \
    --link https://discord.com/channels/111/222/333
  scenekeeper create --muse Ada --name Harbor --folder "Scenes/Arc 2" \
    --participants 3 --link https://discord.com/channels/111/444`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Muse, "muse", "m", "", "muse playing in the scene (required)")
	_ = cmd.MarkFlagRequired("muse")
	cmd.Flags().StringVarP(&opts.Link, "link", "l", "", "thread address (required)")
	_ = cmd.MarkFlagRequired("link")
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "scene name, used as the file name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&opts.Folder, "folder", "", "vault folder for the document (default: the scenes folder)")
	cmd.Flags().IntVar(&opts.Participants, "participants", 0, "expected number of participants (default 2)")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(opts.RootOptions, cmd, needRemote)
	if err != nil {
		return err
	}
	defer s.Close()

	p := scene.NewProvisioner(s.client, s.vault, s.cache, s.cfg.ScenesFolder,
		scene.WithProvisionNotifier(s.notices),
	)
	res, err := p.CreateScene(ctx, scene.Request{
		Muse:         opts.Muse,
		Link:         opts.Link,
		Name:         opts.Name,
		Folder:       opts.Folder,
		Participants: opts.Participants,
	})
	switch {
	case errors.Is(err, scene.ErrInvalidRequest):
		return s.out.fail(ExitCommandError, ErrCodeInvalid, "invalid scene", err)
	case errors.Is(err, vault.ErrExists):
		return s.out.fail(ExitCommandError, ErrCodeInvalid, "a document with that name already exists", err)
	case err != nil:
		return s.out.fail(ExitFailure, ErrCodeGeneric, "failed to create scene", err)
	}

	result := CreateResult{
		Path:       res.Path,
		ThreadID:   res.Ref.ThreadID,
		Link:       res.Ref.URL(),
		Registered: res.Registered,
		Tracked:    res.Tracked,
	}
	if s.out.IsJSON() {
		return s.out.Respond(CLIResponse{Status: "ok", Data: result, Notices: s.notices.Notices()})
	}

	w := s.out.Writer
	fmt.Fprintf(w, "Created %s\n", result.Path)
	if result.Registered {
		fmt.Fprintf(w, "Linked to thread %s\n", result.ThreadID)
	}
	if !result.Tracked {
		s.out.VerboseLog("The bot is not tracking thread %s yet", result.ThreadID)
	}
	return nil
}
