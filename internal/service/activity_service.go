package service

import (
	"context"
	"time"

	"cardlink/internal/entity"
	"cardlink/internal/repository"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

func (s *AuthService) ListActivity(ctx context.Context, query ActivityQuery) ([]entity.ActivityLog, error) {
	if query.UserID == 0 {
		return nil, ErrInvalidInput
	}
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return nil, ErrInvalidInput
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	return s.activityLogs.List(ctx, repository.ActivityFilter{
		UserID:     query.UserID,
		Types:      query.Types,
		From:       query.From,
		To:         query.To,
		DeviceType: query.DeviceType,
		Browser:    query.Browser,
		Limit:      limit,
		Offset:     query.Offset,
	})
}

// SecuritySummary counts failed sign-ins within the trailing window.
func (s *AuthService) SecuritySummary(ctx context.Context, userID uint, window time.Duration) (*SecuritySummary, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := s.now().Add(-window).UTC()
	count, err := s.activityLogs.CountSince(ctx, userID, entity.LoginFailed, since)
	if err != nil {
		return nil, err
	}
	return &SecuritySummary{FailedLogins: count, Window: window}, nil
}
