// Package reasoning turns the backend's raw rewrite metadata into what the user reads:
// a one-sentence summary of the decision and a clean list of feedback bullets.
package reasoning

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FeedbackBulletPrefix is the marker used when bullets are joined back into text
const FeedbackBulletPrefix = "• "

var bulletMarkers = []string{"•", "·", "-", "*", "+", "–"}

// NormalizeFeedback splits raw feedback text into bullets.
// Lines starting with a bullet marker or a list number open a new bullet, unmarked lines
// continue the previous one. Text with no markers at all becomes a single bullet.
func NormalizeFeedback(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var bullets []string
	marked := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		text, ok := stripMarker(line)
		if ok {
			marked = true
			if text != "" {
				bullets = append(bullets, text)
			}
			continue
		}
		if len(bullets) > 0 && marked {
			bullets[len(bullets)-1] += " " + line
			continue
		}
		bullets = append(bullets, line)
	}

	if !marked {
		return []string{collapseSpace(raw)}
	}
	return bullets
}

// NormalizeBullets cleans an already split list: markers stripped, blanks dropped
func NormalizeBullets(items []string) []string {
	var bullets []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if text, ok := stripMarker(item); ok {
			item = text
		}
		if item != "" {
			bullets = append(bullets, item)
		}
	}
	return bullets
}

// FormatFeedback joins bullets into newline separated "• " lines.
// Returns nil when there is nothing to show.
func FormatFeedback(bullets []string) *string {
	bullets = NormalizeBullets(bullets)
	if len(bullets) == 0 {
		return nil
	}
	lines := make([]string, len(bullets))
	for i, b := range bullets {
		lines[i] = FeedbackBulletPrefix + b
	}
	joined := strings.Join(lines, "\n")
	return &joined
}

// Summarize returns the first sentence of the rationale, or a fallback built from the
// intent when no rationale is available.
func Summarize(rationale, intent *string) string {
	if rationale != nil {
		if text := strings.TrimSpace(*rationale); text != "" {
			return firstSentence(text)
		}
	}
	if intent != nil && strings.TrimSpace(*intent) != "" {
		return "Your prompt was classified as " + strings.ToLower(FormatIntent(*intent)) + "."
	}
	return "No reasoning was provided for this prompt."
}

// FormatIntent renders an intent label for display: "direct_answer" -> "Direct answer"
func FormatIntent(intent string) string {
	intent = strings.TrimSpace(strings.ReplaceAll(intent, "_", " "))
	if intent == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(intent)
	return string(unicode.ToUpper(r)) + strings.ToLower(intent[size:])
}

// firstSentence cuts text after the first period that ends the text or is followed by
// whitespace, so "3.5" or "e.g" inside a word do not end the sentence.
func firstSentence(text string) string {
	for i := 0; i < len(text); i++ {
		if text[i] != '.' {
			continue
		}
		if i == len(text)-1 {
			return text
		}
		next, _ := utf8.DecodeRuneInString(text[i+1:])
		if unicode.IsSpace(next) {
			return text[:i+1]
		}
	}
	return text
}

func stripMarker(line string) (string, bool) {
	for _, marker := range bulletMarkers {
		if strings.HasPrefix(line, marker) {
			rest := line[len(marker):]
			// "-5 degrees" or "*emphasis*" are not bullets
			if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\t") && marker != "•" && marker != "·" {
				return line, false
			}
			return strings.TrimSpace(rest), true
		}
	}

	// numbered lists: "1." or "1)"
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(line) && (line[digits] == '.' || line[digits] == ')') {
		rest := line[digits+1:]
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			return strings.TrimSpace(rest), true
		}
	}
	return line, false
}

func collapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
