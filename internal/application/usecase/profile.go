package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/eventbus"
	"github.com/ngoclaw/scenegate/pkg/errors"
)

// ProfileUseCase manages system prompt profiles for the admin surface.
type ProfileUseCase struct {
	profiles *service.ProfileService
	bus      eventbus.Bus
	logger   *zap.Logger
}

// NewProfileUseCase creates the profile use case.
func NewProfileUseCase(profiles *service.ProfileService, bus eventbus.Bus, logger *zap.Logger) *ProfileUseCase {
	return &ProfileUseCase{
		profiles: profiles,
		bus:      bus,
		logger:   logger.With(zap.String("component", "profile_usecase")),
	}
}

// List returns every profile.
func (uc *ProfileUseCase) List(ctx context.Context) ([]*entity.SystemPromptProfile, error) {
	return uc.profiles.List(ctx)
}

// Active returns the active profile.
func (uc *ProfileUseCase) Active(ctx context.Context) (*entity.SystemPromptProfile, error) {
	return uc.profiles.Active(ctx)
}

// Save creates or updates a profile by name, optionally activating it.
func (uc *ProfileUseCase) Save(ctx context.Context, name, head, rules string, activate bool) (*entity.SystemPromptProfile, error) {
	p, err := uc.profiles.Upsert(ctx, name, head, rules)
	if err != nil {
		if errors.Is(err, entity.ErrInvalidProfileName) {
			return nil, errors.NewInvalidInputError(err.Error())
		}
		return nil, err
	}
	if !activate {
		return p, nil
	}
	return uc.Activate(ctx, p.ID())
}

// Activate makes id the single active profile.
func (uc *ProfileUseCase) Activate(ctx context.Context, id string) (*entity.SystemPromptProfile, error) {
	p, err := uc.profiles.Activate(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventProfileActivated, eventbus.ProfilePayload{
		ProfileID: p.ID(),
		Name:      p.Name(),
	}))
	return p, nil
}
