package tui

import (
	"fmt"
	"strings"

	"learning-agent/internal/domain"
	"learning-agent/internal/reasoning"
	"learning-agent/pkg/api"

	"github.com/charmbracelet/glamour"
)

// NewMarkdownRenderer returns a glamour renderer wrapping at width. An empty style picks
// one from the terminal background.
func NewMarkdownRenderer(style string, width int) (*glamour.TermRenderer, error) {
	if width < 20 {
		width = 20
	}
	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	return glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
}

// RenderMarkdown renders an answer, falling back to the raw text when rendering fails
func RenderMarkdown(r *glamour.TermRenderer, text string) string {
	if r == nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// TurnMeta describes how a turn was answered: mode, intent and the prompt variant sent
func TurnMeta(t domain.Turn) string {
	if !t.EnhancerUsed || t.Mode == nil {
		return "enhancer off"
	}
	parts := []string{reasoning.FormatIntent(string(*t.Mode)) + " mode"}
	if t.Intent != nil && *t.Intent != domain.IntentError {
		parts = append(parts, reasoning.FormatIntent(*t.Intent))
	}
	if t.ChosenVariant != nil {
		parts = append(parts, "sent "+string(*t.ChosenVariant)+" prompt")
	}
	return strings.Join(parts, " · ")
}

// markdownCache keeps rendered answers of finished turns, keyed by turn id
type markdownCache struct {
	renderer *glamour.TermRenderer
	style    string
	width    int
	rendered map[string]string
}

func newMarkdownCache(style string) *markdownCache {
	return &markdownCache{style: style, rendered: map[string]string{}}
}

func (c *markdownCache) resize(width int) {
	if width == c.width && c.renderer != nil {
		return
	}
	r, err := NewMarkdownRenderer(c.style, width)
	if err != nil {
		c.renderer = nil
	} else {
		c.renderer = r
	}
	c.width = width
	c.rendered = map[string]string{}
}

func (c *markdownCache) render(t domain.Turn) string {
	if out, ok := c.rendered[t.ID]; ok {
		return out
	}
	out := RenderMarkdown(c.renderer, derefStr(t.FinalAnswer))
	c.rendered[t.ID] = out
	return out
}

func (m Model) renderTranscript(turns []domain.Turn) string {
	if len(turns) == 0 {
		return m.theme.meta.Render("No messages yet. Type a prompt and press enter.")
	}

	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.theme.user.Render("> " + t.OriginalPrompt))
		b.WriteString("\n")
		b.WriteString(m.theme.meta.Render(TurnMeta(t)))
		b.WriteString("\n")

		switch {
		case t.Stage != domain.StageDone:
			b.WriteString(m.spinner.View() + " answering...")
		case t.HasError():
			b.WriteString(m.theme.errorText.Render(derefStr(t.FinalAnswer)))
		default:
			b.WriteString(m.markdown.render(t))
		}
	}
	return b.String()
}

func (m Model) renderPending() string {
	p := m.pending
	if p == nil {
		return ""
	}
	if p.Stage == domain.StageClassifying {
		return m.theme.panel.Render(m.spinner.View() + " classifying and rewriting your prompt... (esc to cancel)")
	}

	var b strings.Builder
	b.WriteString(m.theme.label.Render("Why: "))
	b.WriteString(p.ReasoningSummary())
	if p.Intent != nil {
		b.WriteString("\n" + m.theme.label.Render("Intent: ") + reasoning.FormatIntent(*p.Intent))
		if p.Topic != nil {
			b.WriteString(m.theme.meta.Render(fmt.Sprintf(" (%s)", *p.Topic)))
		}
	}
	b.WriteString("\n\n" + m.theme.label.Render("[1] Original") + "\n" + p.OriginalPrompt)
	if p.RewrittenPrompt != nil {
		b.WriteString("\n\n" + m.theme.label.Render("[2] Rewritten") + "\n" + m.theme.rewritten.Render(*p.RewrittenPrompt))
	} else {
		b.WriteString("\n\n" + m.theme.meta.Render("No rewrite was produced; [2] sends the original prompt."))
	}
	if bullets := p.FeedbackBullets(); len(bullets) > 0 {
		b.WriteString("\n\n" + m.theme.label.Render("What changed"))
		for _, bullet := range bullets {
			b.WriteString("\n" + m.theme.bullet.Render(reasoning.FeedbackBulletPrefix) + bullet)
		}
	}
	if m.editing {
		b.WriteString("\n\n" + m.theme.meta.Render("Editing the prompt below. enter sends it, esc goes back."))
	}

	width := m.width - 2
	if width < 20 {
		width = 20
	}
	return m.theme.panel.Width(width).Render(b.String())
}

func (m Model) renderHeader() string {
	title := "New conversation"
	if id := m.store.ActiveID(); id != "" {
		if conv, ok := m.store.Get(id); ok && conv.Title != "" {
			title = conv.Title
		}
	}

	enh := m.theme.badgeOff.Render("enhancer off")
	if m.enhancer {
		enh = m.theme.badgeOn.Render("enhancer on")
	}
	mode := m.theme.badgeOff.Render(string(m.mode))
	if m.mode == api.ModeSocratic {
		mode = m.theme.badgeOn.Render(string(m.mode))
	}
	return m.theme.header.Render(title) + " " + enh + " " + mode
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
