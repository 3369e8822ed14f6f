package repository

import (
	"context"
	"time"

	"cardlink/internal/entity"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActivityFilter struct {
	UserID     uint
	Types      []entity.ActivityType
	From       *time.Time
	To         *time.Time
	DeviceType string
	Browser    string
	Limit      int
	Offset     int
}

type ActivityLogRepository interface {
	Create(ctx context.Context, log *entity.ActivityLog) error
	List(ctx context.Context, filter ActivityFilter) ([]entity.ActivityLog, error)
	CountSince(ctx context.Context, userID uint, activity entity.ActivityType, since time.Time) (int64, error)
	CountReasonSince(ctx context.Context, userID uint, activity entity.ActivityType, reason string, since time.Time) (int64, error)
}

type activityLogRepository struct {
	db *gorm.DB
}

func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

func (r *activityLogRepository) Create(ctx context.Context, log *entity.ActivityLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *activityLogRepository) List(ctx context.Context, filter ActivityFilter) ([]entity.ActivityLog, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ?", filter.UserID).
		Order("created_at DESC")

	if len(filter.Types) > 0 {
		query = query.Where("activity IN ?", filter.Types)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}
	if filter.DeviceType != "" {
		query = query.Where("device_type = ?", filter.DeviceType)
	}
	if filter.Browser != "" {
		query = query.Where("browser = ?", filter.Browser)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var logs []entity.ActivityLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *activityLogRepository) CountSince(
	ctx context.Context,
	userID uint,
	activity entity.ActivityType,
	since time.Time,
) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.ActivityLog{}).
		Where("user_id = ? AND activity = ? AND created_at >= ?", userID, activity, since).
		Count(&count).Error
	return count, err
}

// CountReasonSince counts entries whose metadata "reason" equals reason.
func (r *activityLogRepository) CountReasonSince(
	ctx context.Context,
	userID uint,
	activity entity.ActivityType,
	reason string,
	since time.Time,
) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.ActivityLog{}).
		Where("user_id = ? AND activity = ? AND created_at >= ?", userID, activity, since).
		Where(datatypes.JSONQuery("metadata").Equals(reason, "reason")).
		Count(&count).Error
	return count, err
}
