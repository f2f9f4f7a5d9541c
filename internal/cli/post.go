package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/scene"
	"github.com/roach88/scenekeeper/internal/store"
)

// PostOptions holds flags for the post command.
type PostOptions struct {
	*RootOptions
	Muse    string
	Scene   string
	Link    string
	Message string
	File    string
}

// PostOutput is the JSON payload of the post command.
type PostOutput struct {
	ThreadID string `json:"thread_id"`
	Muse     string `json:"muse"`
	Scene    string `json:"scene,omitempty"`
	Parts    int    `json:"parts"`
	Chars    int    `json:"chars"`
}

// NewPostCommand creates the post command.
func NewPostCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PostOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a message into a scene's thread as a muse",
		Long: `Post a message into a thread as one of your muses.

The thread comes from the Link of a scene document (--scene) or from a
thread address (--link). The message comes from --message, from --file, or
from standard input when neither is given ("--file -" also reads stdin).
Messages longer than the bot's limit are split at paragraph, line or word
boundaries and sent in order.

Examples:
  scenekeeper post --muse Ada --scene "Scenes/Lighthouse.md" --message "The lamp flickered."
  scenekeeper post --muse Ada --link https://discord.com/channels/111/222/333 --file reply.md`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Muse, "muse", "m", "", "muse to post as (required)")
	_ = cmd.MarkFlagRequired("muse")
	cmd.Flags().StringVarP(&opts.Scene, "scene", "s", "", "scene document whose thread to post into")
	cmd.Flags().StringVarP(&opts.Link, "link", "l", "", "thread address to post into")
	cmd.MarkFlagsMutuallyExclusive("scene", "link")
	cmd.MarkFlagsOneRequired("scene", "link")
	cmd.Flags().StringVar(&opts.Message, "message", "", "message text")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", `read the message from a file ("-" for stdin)`)
	cmd.MarkFlagsMutuallyExclusive("message", "file")

	return cmd
}

func runPost(opts *PostOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(opts.RootOptions, cmd, needRemote|needJournal)
	if err != nil {
		return err
	}
	defer s.Close()

	content, err := postContent(opts, cmd.InOrStdin())
	if err != nil {
		return s.out.fail(ExitCommandError, ErrCodeInvalid, "failed to read message", err)
	}

	req := scene.PostRequest{Muse: opts.Muse, Link: opts.Link, Content: content}
	if opts.Scene != "" {
		req.ScenePath = s.docPath(opts.Scene)
	}

	p := scene.NewPoster(s.client, s.vault, s.cache,
		scene.WithPostNotifier(s.notices),
		scene.WithPostObserver(&postJournal{journal: s.journal}),
		scene.WithIdentities(s.cfg.Identities...),
	)
	res, err := p.Post(ctx, req)
	if err != nil {
		var ve *engine.ValidationError
		switch {
		case errors.Is(err, scene.ErrInvalidRequest), errors.As(err, &ve):
			return s.out.fail(ExitCommandError, ErrCodeInvalid, "cannot post", err)
		case res.Parts > 0:
			return s.out.fail(ExitFailure, ErrCodeRemote, fmt.Sprintf("posting stopped after %d part(s)", res.Parts), err)
		}
		return s.remoteFail("failed to post", err)
	}

	out := PostOutput{
		ThreadID: res.ThreadID,
		Muse:     res.Muse,
		Scene:    res.ScenePath,
		Parts:    res.Parts,
		Chars:    res.Chars,
	}
	if s.out.IsJSON() {
		return s.out.Respond(CLIResponse{Status: "ok", Data: out, Notices: s.notices.Notices()})
	}
	fmt.Fprintf(s.out.Writer, "Posted %d message(s) to thread %s as %s\n", out.Parts, out.ThreadID, out.Muse)
	return nil
}

// postContent reads the message from the flags or stdin.
func postContent(opts *PostOptions, stdin io.Reader) (string, error) {
	if opts.Message != "" {
		return opts.Message, nil
	}
	var (
		data []byte
		err  error
	)
	if opts.File == "" || opts.File == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(opts.File)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// postJournal records post attempts in the journal.
type postJournal struct {
	journal *store.Store
	now     func() time.Time
}

func (j *postJournal) PostFinished(ctx context.Context, r scene.PostResult, err error) {
	if j.journal == nil {
		return
	}
	now := time.Now
	if j.now != nil {
		now = j.now
	}
	p := store.Post{
		ThreadID:     r.ThreadID,
		MuseName:     r.Muse,
		DocumentPath: r.ScenePath,
		Parts:        r.Parts,
		Chars:        r.Chars,
		PostedAt:     now(),
	}
	if err != nil {
		p.Error = err.Error()
	}
	if _, err := j.journal.RecordPost(context.WithoutCancel(ctx), p); err != nil {
		slog.Warn("failed to journal post", "thread_id", r.ThreadID, "error", err)
	}
}
