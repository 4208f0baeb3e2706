package cli

import (
	"context"

	"learning-agent/internal/tui"

	"github.com/spf13/cobra"
)

func newChatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context())
		},
	}
}

func (a *app) runChat(ctx context.Context) error {
	sess, err := a.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	return tui.Run(sess.store, sess.backend, tui.Settings{
		Mode:     a.cfg.DefaultMode,
		Enhancer: a.cfg.Enhancer,
	}, a.cfg.RequestTimeout)
}
