package entity

import (
	"strings"
	"time"
)

// AnswerKind 表单答案类型
type AnswerKind string

const (
	AnswerSingle AnswerKind = "single" // 单选
	AnswerMulti  AnswerKind = "multi"  // 多选（保持选择顺序）
	AnswerText   AnswerKind = "text"   // 自由文本
)

// FormAnswer 单个字段的答案
type FormAnswer struct {
	Kind    AnswerKind
	Text    string
	Choices []string
}

// SingleAnswer builds a single-choice answer.
func SingleAnswer(value string) FormAnswer {
	return FormAnswer{Kind: AnswerSingle, Text: value}
}

// MultiAnswer builds a multi-select answer, preserving selection order.
func MultiAnswer(values ...string) FormAnswer {
	cp := make([]string, len(values))
	copy(cp, values)
	return FormAnswer{Kind: AnswerMulti, Choices: cp}
}

// TextAnswer builds a free-text answer.
func TextAnswer(value string) FormAnswer {
	return FormAnswer{Kind: AnswerText, Text: value}
}

// FormSubmission 表单提交（创建后不可变）
type FormSubmission struct {
	responseID  string
	userID      string
	answers     map[string]FormAnswer
	submittedAt time.Time
}

// NewFormSubmission 创建表单提交，答案被深拷贝
func NewFormSubmission(responseID, userID string, answers map[string]FormAnswer, submittedAt time.Time) (*FormSubmission, error) {
	if strings.TrimSpace(responseID) == "" {
		return nil, ErrInvalidResponseID
	}

	cp := make(map[string]FormAnswer, len(answers))
	for field, a := range answers {
		cp[field] = copyAnswer(a)
	}
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}

	return &FormSubmission{
		responseID:  responseID,
		userID:      userID,
		answers:     cp,
		submittedAt: submittedAt,
	}, nil
}

func (f *FormSubmission) ResponseID() string     { return f.responseID }
func (f *FormSubmission) UserID() string         { return f.userID }
func (f *FormSubmission) SubmittedAt() time.Time { return f.submittedAt }

// Answer 返回字段答案的副本
func (f *FormSubmission) Answer(field string) (FormAnswer, bool) {
	a, ok := f.answers[field]
	if !ok {
		return FormAnswer{}, false
	}
	return copyAnswer(a), true
}

// Text returns the trimmed text of a single or free-text answer.
// A multi-select answer yields its first non-blank choice.
func (f *FormSubmission) Text(field string) string {
	a, ok := f.answers[field]
	if !ok {
		return ""
	}
	if a.Kind == AnswerMulti {
		for _, c := range a.Choices {
			if s := strings.TrimSpace(c); s != "" {
				return s
			}
		}
		return ""
	}
	return strings.TrimSpace(a.Text)
}

// Choices returns the selected values in selection order. Single and text
// answers yield a one-element slice when non-blank.
func (f *FormSubmission) Choices(field string) []string {
	a, ok := f.answers[field]
	if !ok {
		return nil
	}
	if a.Kind != AnswerMulti {
		if s := strings.TrimSpace(a.Text); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, len(a.Choices))
	copy(out, a.Choices)
	return out
}

// Answers 返回所有答案的副本
func (f *FormSubmission) Answers() map[string]FormAnswer {
	cp := make(map[string]FormAnswer, len(f.answers))
	for field, a := range f.answers {
		cp[field] = copyAnswer(a)
	}
	return cp
}

func copyAnswer(a FormAnswer) FormAnswer {
	if a.Choices != nil {
		choices := make([]string, len(a.Choices))
		copy(choices, a.Choices)
		a.Choices = choices
	}
	return a
}
