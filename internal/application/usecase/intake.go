package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/domain/scenario"
	"github.com/ngoclaw/scenegate/internal/infrastructure/eventbus"
	"github.com/ngoclaw/scenegate/pkg/errors"
)

// RawAnswer is one answer as delivered by the form provider. Field is the
// provider's field ref; Kind may be empty and is then inferred.
type RawAnswer struct {
	Field   string   `json:"field" yaml:"field"`
	Kind    string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Text    string   `json:"text,omitempty" yaml:"text,omitempty"`
	Choices []string `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// IntakeInput 表单提交输入
type IntakeInput struct {
	ResponseID  string      `json:"response_id" yaml:"response_id"`
	UserID      string      `json:"user_id" yaml:"user_id"`
	SubmittedAt time.Time   `json:"submitted_at" yaml:"submitted_at"`
	Answers     []RawAnswer `json:"answers" yaml:"answers"`
}

// IntakeResult 表单接入结果
type IntakeResult struct {
	Conversation    *entity.Conversation
	Scenario        scenario.Scenario
	Created         bool // conversation created by this submission
	ScenarioChanged bool // scenario replaced on the conversation
	Duplicate       bool // response id was already ingested
}

// IntakeUseCase turns form submissions into conversation scenarios.
type IntakeUseCase struct {
	forms         repository.FormRepository
	conversations repository.ConversationRepository
	fieldMap      map[string]string
	bus           eventbus.Bus
	logger        *zap.Logger
	newID         func() string
}

// NewIntakeUseCase creates the intake use case. fieldMap maps provider field
// refs onto canonical scenario fields; refs are matched case-insensitively.
func NewIntakeUseCase(
	forms repository.FormRepository,
	conversations repository.ConversationRepository,
	fieldMap map[string]string,
	bus eventbus.Bus,
	logger *zap.Logger,
) *IntakeUseCase {
	normalized := make(map[string]string, len(fieldMap))
	for ref, field := range fieldMap {
		normalized[normalizeRef(ref)] = normalizeRef(field)
	}
	return &IntakeUseCase{
		forms:         forms,
		conversations: conversations,
		fieldMap:      normalized,
		bus:           bus,
		logger:        logger.With(zap.String("component", "intake")),
		newID:         uuid.NewString,
	}
}

// IngestSubmission stores the submission, finds or creates the user's
// conversation and sets its scenario when the source response changed.
// Redelivery of an already stored response is accepted and changes nothing.
func (uc *IntakeUseCase) IngestSubmission(ctx context.Context, in IntakeInput) (*IntakeResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, errors.NewInvalidInputError("user_id is required")
	}
	if in.SubmittedAt.IsZero() {
		in.SubmittedAt = time.Now()
	}

	form, err := entity.NewFormSubmission(in.ResponseID, in.UserID, uc.MapAnswers(in.Answers), in.SubmittedAt)
	if err != nil {
		return nil, errors.NewInvalidInputError(err.Error())
	}

	result := &IntakeResult{}
	if err := uc.forms.Save(ctx, form); err != nil {
		if !errors.IsAlreadyExists(err) {
			return nil, err
		}
		stored, findErr := uc.forms.FindByResponseID(ctx, form.ResponseID())
		if findErr != nil {
			return nil, findErr
		}
		form = stored
		result.Duplicate = true
	}

	conv, created, err := uc.conversations.FindOrCreateByUser(ctx, form.UserID(), uc.newID())
	if err != nil {
		return nil, err
	}
	result.Created = created

	sc := scenario.Synthesize(form)
	result.Scenario = sc
	if sc.IsDegraded() {
		uc.logger.Warn("Scenario synthesized with missing fields",
			zap.String("response_id", form.ResponseID()),
			zap.Strings("degraded", sc.Degraded),
		)
	}

	changed, err := uc.conversations.UpdateScenario(ctx, conv.ID(), sc.Text, form.ResponseID())
	if err != nil {
		return nil, err
	}
	if changed {
		if conv, err = uc.conversations.FindByID(ctx, conv.ID()); err != nil {
			return nil, err
		}
		result.ScenarioChanged = true
		uc.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventScenarioUpdated, eventbus.ConversationPayload{
			ConversationID: conv.ID(),
			UserID:         conv.UserID(),
			AIEnabled:      conv.AIEnabled(),
			ScenarioSource: form.ResponseID(),
			Degraded:       sc.IsDegraded(),
		}))
	}
	result.Conversation = conv

	uc.logger.Info("Form submission ingested",
		zap.String("response_id", form.ResponseID()),
		zap.String("conversation_id", conv.ID()),
		zap.Bool("created", created),
		zap.Bool("scenario_changed", result.ScenarioChanged),
		zap.Bool("duplicate", result.Duplicate),
	)
	return result, nil
}

// Preview synthesizes the scenario for a submission without storing
// anything. A missing user id is allowed.
func (uc *IntakeUseCase) Preview(in IntakeInput) (scenario.Scenario, error) {
	if in.SubmittedAt.IsZero() {
		in.SubmittedAt = time.Now()
	}
	userID := in.UserID
	if strings.TrimSpace(userID) == "" {
		userID = "preview"
	}
	form, err := entity.NewFormSubmission(in.ResponseID, userID, uc.MapAnswers(in.Answers), in.SubmittedAt)
	if err != nil {
		return scenario.Scenario{}, errors.NewInvalidInputError(err.Error())
	}
	return scenario.Synthesize(form), nil
}

// MapAnswers resolves provider refs to canonical fields and drops answers
// for fields the synthesizer does not know.
func (uc *IntakeUseCase) MapAnswers(raw []RawAnswer) map[string]entity.FormAnswer {
	answers := make(map[string]entity.FormAnswer, len(raw))
	for _, a := range raw {
		ref := normalizeRef(a.Field)
		field, ok := uc.fieldMap[ref]
		if !ok {
			field = ref
		}
		if !scenario.IsKnownField(field) {
			uc.logger.Debug("Ignoring unmapped form field", zap.String("field", a.Field))
			continue
		}
		answers[field] = toAnswer(field, a)
	}
	return answers
}

func toAnswer(field string, a RawAnswer) entity.FormAnswer {
	switch entity.AnswerKind(strings.ToLower(a.Kind)) {
	case entity.AnswerMulti:
		return entity.MultiAnswer(a.Choices...)
	case entity.AnswerSingle:
		if a.Text == "" && len(a.Choices) > 0 {
			return entity.SingleAnswer(a.Choices[0])
		}
		return entity.SingleAnswer(a.Text)
	case entity.AnswerText:
		return entity.TextAnswer(a.Text)
	}

	switch {
	case scenario.MultiSelectFields[field]:
		if len(a.Choices) == 0 && a.Text != "" {
			return entity.MultiAnswer(a.Text)
		}
		return entity.MultiAnswer(a.Choices...)
	case len(a.Choices) > 0:
		return entity.SingleAnswer(a.Choices[0])
	default:
		return entity.TextAnswer(a.Text)
	}
}

func normalizeRef(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
