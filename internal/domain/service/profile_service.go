package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

// ProfileService manages system prompt profiles. Exactly one profile is
// active at a time; switching is a single store write.
type ProfileService struct {
	repo   repository.ProfileRepository
	logger *zap.Logger
}

// NewProfileService creates a profile service.
func NewProfileService(repo repository.ProfileRepository, logger *zap.Logger) *ProfileService {
	return &ProfileService{
		repo:   repo,
		logger: logger.With(zap.String("component", "profile_service")),
	}
}

// Upsert creates a profile or updates the text of the one with the same
// name. The active pointer is untouched.
func (s *ProfileService) Upsert(ctx context.Context, name, headText, ruleText string) (*entity.SystemPromptProfile, error) {
	name = strings.TrimSpace(name)
	existing, err := s.repo.FindByName(ctx, name)
	switch {
	case err == nil:
		existing.UpdateText(headText, ruleText)
		if err := s.repo.Save(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case !domainErrors.IsNotFound(err):
		return nil, err
	}

	profile, err := entity.NewSystemPromptProfile(uuid.NewString(), name, headText, ruleText)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, profile); err != nil {
		return nil, err
	}
	s.logger.Info("Profile created", zap.String("id", profile.ID()), zap.String("name", name))
	return profile, nil
}

// Activate makes id the only active profile.
func (s *ProfileService) Activate(ctx context.Context, id string) (*entity.SystemPromptProfile, error) {
	profile, err := s.repo.Activate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Profile activated", zap.String("id", id), zap.String("name", profile.Name()))
	return profile, nil
}

// ActivateByName activates the profile with the given name.
func (s *ProfileService) ActivateByName(ctx context.Context, name string) (*entity.SystemPromptProfile, error) {
	profile, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.Activate(ctx, profile.ID())
}

// Active returns the active profile.
func (s *ProfileService) Active(ctx context.Context) (*entity.SystemPromptProfile, error) {
	return s.repo.Active(ctx)
}

// List returns every profile with IsActive derived from the active pointer.
func (s *ProfileService) List(ctx context.Context) ([]*entity.SystemPromptProfile, error) {
	return s.repo.List(ctx)
}
