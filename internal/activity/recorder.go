// Package activity records the security audit trail: one immutable row per
// security-relevant event, enriched with location and device details.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cardlink/internal/entity"
	"cardlink/internal/geoip"
	"cardlink/internal/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

type Recorder interface {
	Record(ctx context.Context, userID *uint, activity entity.ActivityType, meta RequestMeta, details map[string]any) bool
}

type LogRecorder struct {
	logs         repository.ActivityLogRepository
	geo          geoip.Resolver
	logger       logrus.FieldLogger
	now          func() time.Time
	writeTimeout time.Duration
}

func NewLogRecorder(logs repository.ActivityLogRepository, geo geoip.Resolver, logger logrus.FieldLogger) *LogRecorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogRecorder{
		logs:         logs,
		geo:          geo,
		logger:       logger.WithField("component", "activity"),
		now:          time.Now,
		writeTimeout: 5 * time.Second,
	}
}

// WithClock overrides the timestamp source for recorded rows.
func (r *LogRecorder) WithClock(now func() time.Time) *LogRecorder {
	r.now = now
	return r
}

// Record never fails the caller: errors and panics are logged and reported
// as false.
func (r *LogRecorder) Record(
	ctx context.Context,
	userID *uint,
	activity entity.ActivityType,
	meta RequestMeta,
	details map[string]any,
) (ok bool) {
	entry := r.logger.WithField("activity", activity)
	if userID != nil {
		entry = entry.WithField("user_id", *userID)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			entry.WithField("panic", recovered).Error("activity record panicked")
			ok = false
		}
	}()

	ip := meta.ClientIP()
	if ip == "" {
		entry.Warn("activity not recorded: no client ip")
		return false
	}

	var (
		location geoip.Location
		device   Device
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		location = r.resolve(groupCtx, ip)
		return nil
	})
	group.Go(func() error {
		device = ParseUserAgent(meta.UserAgent)
		return nil
	})
	_ = group.Wait()

	record, err := r.build(userID, activity, ip, meta.UserAgent, location, device, details)
	if err != nil {
		entry.WithError(err).Warn("activity not recorded")
		return false
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	if err := r.logs.Create(writeCtx, record); err != nil {
		entry.WithError(err).Warn("activity not recorded")
		return false
	}
	return true
}

func (r *LogRecorder) resolve(ctx context.Context, ip string) geoip.Location {
	if r.geo == nil {
		return geoip.Location{Country: entity.UnknownLocation, City: entity.UnknownLocation, IP: ip}
	}
	return r.geo.Resolve(ctx, ip)
}

func (r *LogRecorder) build(
	userID *uint,
	activity entity.ActivityType,
	ip string,
	userAgent string,
	location geoip.Location,
	device Device,
	details map[string]any,
) (*entity.ActivityLog, error) {
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}

	// The provider's echoed address wins: it may have replaced a loopback peer.
	if location.IP != "" {
		ip = location.IP
	}
	country := orUnknownLocation(location.Country)
	city := orUnknownLocation(location.City)

	return &entity.ActivityLog{
		UserID:     userID,
		Activity:   activity,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Country:    &country,
		City:       &city,
		DeviceType: device.Type,
		OS:         device.OS,
		Browser:    device.Browser,
		Metadata:   datatypes.JSON(payload),
		CreatedAt:  r.now().UTC(),
	}, nil
}

func orUnknownLocation(value string) string {
	if value == "" {
		return entity.UnknownLocation
	}
	return value
}

// Nop discards every record. It is used where no audit store is configured.
type Nop struct{}

func (Nop) Record(context.Context, *uint, entity.ActivityType, RequestMeta, map[string]any) bool {
	return false
}
