package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"learning-agent/internal/domain"
	"learning-agent/internal/reasoning"
	"learning-agent/internal/tui"
	"learning-agent/internal/workflow"
	"learning-agent/pkg/api"

	"github.com/spf13/cobra"
)

// ErrTurnFailed is returned when the backend could not classify or answer the prompt
var ErrTurnFailed = errors.New("turn failed")

type askOptions struct {
	mode            string
	noEnhancer      bool
	variant         string
	edit            string
	raw             bool
	conversation    string
	newConversation bool
}

func newAskCommand(a *app) *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask one question without opening the chat",
		Long: `Ask sends a single prompt through the enhancer, prints the reasoning and the rewritten
prompt, sends the chosen version and prints the answer. The turn is saved to the active
conversation unless --new or --conversation says otherwise.`,
		Example: `  agent ask "what is a hash map"
  agent ask --mode socratic --variant original "how does TCP slow start work"
  agent ask --edit "Explain hash maps with a Go example" "hash maps?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAsk(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.mode, "mode", "m", "", "learning or socratic (default from config)")
	f.BoolVar(&opts.noEnhancer, "no-enhancer", false, "send the prompt as is, without classification or rewrite")
	f.StringVar(&opts.variant, "variant", string(api.VariantRewritten), "prompt version to send: original, rewritten or edited")
	f.StringVar(&opts.edit, "edit", "", "send this text instead of the rewrite")
	f.BoolVar(&opts.raw, "raw", false, "print the answer without markdown rendering")
	f.StringVarP(&opts.conversation, "conversation", "c", "", "continue the conversation with this id or id prefix")
	f.BoolVar(&opts.newConversation, "new", false, "start a new conversation")
	cmd.MarkFlagsMutuallyExclusive("conversation", "new")
	return cmd
}

func (a *app) runAsk(ctx context.Context, out io.Writer, prompt string, opts askOptions) error {
	mode := a.cfg.DefaultMode
	if opts.mode != "" {
		mode = api.Mode(opts.mode)
		if !mode.Valid() {
			return fmt.Errorf("--mode must be %q or %q", api.ModeLearning, api.ModeSocratic)
		}
	}
	variant := api.Variant(opts.variant)
	if opts.edit != "" {
		variant = api.VariantEdited
	}
	if !variant.Valid() {
		return fmt.Errorf("--variant must be one of: original, rewritten, edited")
	}
	if variant == api.VariantEdited && strings.TrimSpace(opts.edit) == "" {
		return errors.New("--variant edited needs the text in --edit")
	}
	enhancer := a.cfg.Enhancer && !opts.noEnhancer

	sess, err := a.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	if opts.conversation != "" {
		summary, err := sess.resolveConversation(opts.conversation)
		if err != nil {
			return err
		}
		if _, err := sess.store.SwitchActive(summary.ID); err != nil {
			return fmt.Errorf("error switching conversation: %w", err)
		}
	} else if opts.newConversation {
		if err := sess.store.StartNew(); err != nil {
			return fmt.Errorf("error starting conversation: %w", err)
		}
	}

	events := make(chan workflow.Event, 32)
	orch := workflow.New(sess.backend, sess.store,
		workflow.WithRequestTimeout(a.cfg.RequestTimeout),
		workflow.WithListener(func(ev workflow.Event) {
			select {
			case events <- ev:
			default:
			}
		}),
	)
	defer orch.Close()

	turn, err := orch.Submit(prompt, &mode, enhancer)
	if err != nil {
		return err
	}

	if enhancer {
		ev, err := waitForTurn(ctx, events, turn.ID, workflow.EventRewritten)
		if err != nil {
			return err
		}
		if ev.Kind != workflow.EventRewritten {
			return reportFailure(out, ev)
		}
		printRewrite(out, ev.Turn)
		if _, err := orch.ChoosePromptVariant(turn.ID, variant, opts.edit); err != nil {
			return fmt.Errorf("error sending prompt: %w", err)
		}
	}

	ev, err := waitForTurn(ctx, events, turn.ID, workflow.EventCompleted)
	if err != nil {
		return err
	}
	if ev.Kind != workflow.EventCompleted {
		return reportFailure(out, ev)
	}

	answer := derefStr(ev.Turn.FinalAnswer)
	if !opts.raw {
		if r, err := tui.NewMarkdownRenderer("", 100); err == nil {
			answer = tui.RenderMarkdown(r, answer)
		}
	}
	if enhancer {
		fmt.Fprintf(out, "\n%s\n\n", tui.TurnMeta(ev.Turn))
	}
	fmt.Fprintln(out, answer)
	return nil
}

// waitForTurn returns the first event of turnID that has the wanted kind or ends the turn
func waitForTurn(ctx context.Context, events <-chan workflow.Event, turnID string, want workflow.EventKind) (workflow.Event, error) {
	for {
		select {
		case ev := <-events:
			if ev.Turn.ID != turnID {
				continue
			}
			if ev.Kind == want || ev.Terminal() {
				return ev, nil
			}
		case <-ctx.Done():
			return workflow.Event{}, fmt.Errorf("error waiting for the backend: %w", ctx.Err())
		}
	}
}

func reportFailure(out io.Writer, ev workflow.Event) error {
	if ev.Kind == workflow.EventCancelled {
		return fmt.Errorf("%w: the conversation was removed", ErrTurnFailed)
	}
	fmt.Fprintln(out, derefStr(ev.Turn.FinalAnswer))
	return fmt.Errorf("%w: %v", ErrTurnFailed, ev.Err)
}

func printRewrite(out io.Writer, t domain.Turn) {
	if t.ShowReasoning {
		fmt.Fprintf(out, "Why: %s\n", t.ReasoningSummary())
	}
	if t.Intent != nil {
		intent := reasoning.FormatIntent(*t.Intent)
		if t.Topic != nil && *t.Topic != "" {
			intent += " (" + *t.Topic + ")"
		}
		fmt.Fprintf(out, "Intent: %s\n", intent)
	}
	fmt.Fprintf(out, "\nOriginal:\n  %s\n", t.OriginalPrompt)
	if t.RewrittenPrompt != nil {
		fmt.Fprintf(out, "Rewritten:\n  %s\n", *t.RewrittenPrompt)
	}
	if bullets := t.FeedbackBullets(); len(bullets) > 0 {
		fmt.Fprintln(out, "What changed:")
		for _, b := range bullets {
			fmt.Fprintf(out, "  %s%s\n", reasoning.FeedbackBulletPrefix, b)
		}
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
