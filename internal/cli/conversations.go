package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"learning-agent/internal/domain"
	"learning-agent/internal/tui"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newConversationsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "List and manage saved conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listConversations(cmd.OutOrStdout())
		},
	}

	var raw bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showConversation(cmd.OutOrStdout(), args[0], raw)
		},
	}
	show.Flags().BoolVar(&raw, "raw", false, "print answers without markdown rendering")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations, most recent first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.listConversations(cmd.OutOrStdout())
			},
		},
		show,
		&cobra.Command{
			Use:   "use <id>",
			Short: "Make a conversation active for the next chat or ask",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.useConversation(cmd.OutOrStdout(), args[0])
			},
		},
		&cobra.Command{
			Use:     "delete <id>",
			Aliases: []string{"rm"},
			Short:   "Delete a conversation",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.deleteConversation(cmd.OutOrStdout(), args[0])
			},
		},
	)
	return cmd
}

func (a *app) listConversations(out io.Writer) error {
	sess, err := a.openSession(context.Background(), false)
	if err != nil {
		return err
	}
	defer sess.Close()

	summaries := sess.store.List()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return nil
	}

	active := sess.store.ActiveID()
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		marker := ""
		if s.ID == active {
			marker = "*"
		}
		rows = append(rows, []string{marker, s.ID, s.Title, fmt.Sprint(s.TurnCount), s.UpdatedAt.Local().Format(time.DateTime)})
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("", "ID", "TITLE", "TURNS", "UPDATED").
		Rows(rows...)
	fmt.Fprintln(out, t.String())
	return nil
}

func (a *app) showConversation(out io.Writer, ref string, raw bool) error {
	sess, err := a.openSession(context.Background(), false)
	if err != nil {
		return err
	}
	defer sess.Close()

	summary, err := sess.resolveConversation(ref)
	if err != nil {
		return err
	}
	conv, ok := sess.store.Get(summary.ID)
	if !ok {
		return fmt.Errorf("conversation %s disappeared", summary.ID)
	}

	fmt.Fprintf(out, "%s (%s)\n", conv.Title, conv.ID)
	r, err := tui.NewMarkdownRenderer("", 100)
	if err != nil || raw {
		r = nil
	}
	for _, t := range conv.Turns {
		printTurn(out, t, r)
	}
	return nil
}

func printTurn(out io.Writer, t domain.Turn, r *glamour.TermRenderer) {
	fmt.Fprintf(out, "\n> %s\n", t.OriginalPrompt)
	fmt.Fprintf(out, "  %s\n\n", tui.TurnMeta(t))
	answer := derefStr(t.FinalAnswer)
	if t.Stage != domain.StageDone {
		answer = "(no answer yet)"
	} else if !t.HasError() {
		answer = tui.RenderMarkdown(r, answer)
	}
	fmt.Fprintln(out, answer)
}

func (a *app) useConversation(out io.Writer, ref string) error {
	sess, err := a.openSession(context.Background(), false)
	if err != nil {
		return err
	}
	defer sess.Close()

	summary, err := sess.resolveConversation(ref)
	if err != nil {
		return err
	}
	if _, err := sess.store.SwitchActive(summary.ID); err != nil {
		return fmt.Errorf("error switching conversation: %w", err)
	}
	fmt.Fprintf(out, "Active conversation: %s (%s)\n", summary.Title, summary.ID)
	return nil
}

func (a *app) deleteConversation(out io.Writer, ref string) error {
	sess, err := a.openSession(context.Background(), false)
	if err != nil {
		return err
	}
	defer sess.Close()

	summary, err := sess.resolveConversation(ref)
	if err != nil {
		return err
	}
	if err := sess.store.DeleteConversation(summary.ID); err != nil {
		return fmt.Errorf("error deleting conversation: %w", err)
	}
	fmt.Fprintf(out, "Deleted %s (%s)\n", summary.Title, summary.ID)
	return nil
}
