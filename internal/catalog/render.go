package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/formvoice/internal/domain"
)

var promptToken = regexp.MustCompile(`\{answer:([A-Za-z0-9_]+)\}`)

// RenderPrompt substitutes {answer:STEP} tokens in a question prompt with the
// accumulated answer for that step. Unanswered references render as an empty
// string, matching the blank the respondent would see mid-survey.
func RenderPrompt(q domain.Question, answers map[string]any) string {
	if !strings.Contains(q.Prompt, "{answer:") {
		return q.Prompt
	}
	return promptToken.ReplaceAllStringFunc(q.Prompt, func(token string) string {
		step := promptToken.FindStringSubmatch(token)[1]
		return answerText(answers[step])
	})
}

func answerText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	case int:
		return fmt.Sprintf("%d", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
