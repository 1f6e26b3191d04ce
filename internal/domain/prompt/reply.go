package prompt

import (
	"regexp"
	"strings"
)

// finalTagRe matches <final> and </final> markup; the content is kept.
var finalTagRe = regexp.MustCompile(`(?i)<\s*/?\s*final\b[^<>]*>`)

// thinkingTagRe matches opening and closing think/thinking/thought tags.
// Group 1 is "/" for a closing tag.
var thinkingTagRe = regexp.MustCompile(`(?i)<\s*(/?)\s*(?:think(?:ing)?|thought)\b[^<>]*>`)

// CleanReply turns raw model output into the text stored as the assistant
// message. Reasoning blocks are removed (an unclosed block drops the rest of
// the output), an echoed reply cue is stripped, and the text is cut where
// the model starts writing another speaker's turn.
func CleanReply(raw string) string {
	text := stripReasoning(raw)
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(strings.TrimPrefix(text, ReplyCue))
	return strings.TrimSpace(cutAtSpeaker(text))
}

func stripReasoning(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}
	text = finalTagRe.ReplaceAllString(text, "")

	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	inside := false
	for _, m := range thinkingTagRe.FindAllStringSubmatchIndex(text, -1) {
		closing := m[2] != m[3]
		if !inside {
			sb.WriteString(text[last:m[0]])
			inside = !closing
		} else if closing {
			inside = false
		}
		last = m[1]
	}
	if !inside {
		sb.WriteString(text[last:])
	}
	return sb.String()
}

// cutAtSpeaker truncates text at the first line that opens a new turn.
func cutAtSpeaker(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i == 0 {
			continue
		}
		trimmed := strings.TrimSpace(line)
		for _, label := range roleLabels {
			if strings.HasPrefix(trimmed, label+":") {
				return strings.Join(lines[:i], "\n")
			}
		}
	}
	return text
}
