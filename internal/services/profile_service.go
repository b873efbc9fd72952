package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/cache"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/models"
	pgrepo "github.com/yoockh/yoochat/internal/repositories/postgres"
	"github.com/yoockh/yoochat/internal/utils"
)

const profileCacheTTL = 5 * time.Minute

type ProfileService interface {
	GetMe(ctx context.Context, userID string) (*models.Profile, error)
	Upsert(ctx context.Context, p *models.Profile) error
	// DisplayAttributes never fails: an unknown or unreachable profile
	// yields a profile carrying only the user id.
	DisplayAttributes(ctx context.Context, userID string) models.Profile
}

type profileService struct {
	profiles pgrepo.ProfileRepository
	cache    cache.Cache
	log      *logrus.Entry
}

// NewProfileService wires the repository with an optional read-through cache.
func NewProfileService(profiles pgrepo.ProfileRepository, c cache.Cache, l *logrus.Logger) ProfileService {
	return &profileService{profiles: profiles, cache: c, log: logger.Component(l, "profile_service")}
}

func profileKey(userID string) string { return "profile:" + userID }

func (s *profileService) GetMe(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "ProfileService.GetMe"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	if s.cache != nil {
		var p models.Profile
		if hit, err := s.cache.GetJSON(ctx, profileKey(userID), &p); err == nil && hit {
			return &p, nil
		}
	}

	p, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "profile not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get profile", err)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, profileKey(userID), p, profileCacheTTL); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Debug("profile cache write failed")
		}
	}
	return p, nil
}

func (s *profileService) Upsert(ctx context.Context, p *models.Profile) error {
	const op = "ProfileService.Upsert"

	if p == nil || p.UserID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "profile.user_id is required", nil)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	if err := s.profiles.Upsert(ctx, p); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to upsert profile", err)
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, profileKey(p.UserID))
	}
	return nil
}

func (s *profileService) DisplayAttributes(ctx context.Context, userID string) models.Profile {
	p, err := s.GetMe(ctx, userID)
	if err != nil {
		if !utils.IsCode(err, utils.CodeNotFound) {
			s.log.WithError(err).WithField("user_id", userID).Warn("display attributes unavailable")
		}
		return models.Profile{UserID: userID}
	}
	return *p
}
