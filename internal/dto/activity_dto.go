package dto

import (
	"encoding/json"
	"time"

	"cardlink/internal/entity"
)

type ActivityLogResponse struct {
	ID         string          `json:"id"`
	Activity   string          `json:"activityType"`
	IPAddress  string          `json:"ipAddress"`
	UserAgent  string          `json:"userAgent"`
	Country    string          `json:"country"`
	City       string          `json:"city"`
	DeviceType string          `json:"deviceType"`
	OS         string          `json:"os"`
	Browser    string          `json:"browser"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type ActivityListResponse struct {
	Success bool                  `json:"success"`
	Data    []ActivityLogResponse `json:"data"`
}

type SecuritySummaryResponse struct {
	Success      bool  `json:"success"`
	FailedLogins int64 `json:"failedLogins"`
	WindowHours  int   `json:"windowHours"`
}

func ActivityLogsFromEntities(logs []entity.ActivityLog) []ActivityLogResponse {
	responses := make([]ActivityLogResponse, 0, len(logs))
	for _, log := range logs {
		item := ActivityLogResponse{
			ID:         log.ID.String(),
			Activity:   string(log.Activity),
			IPAddress:  log.IPAddress,
			UserAgent:  log.UserAgent,
			Country:    stringValue(log.Country, entity.UnknownLocation),
			City:       stringValue(log.City, entity.UnknownLocation),
			DeviceType: log.DeviceType,
			OS:         log.OS,
			Browser:    log.Browser,
			CreatedAt:  log.CreatedAt,
		}
		if len(log.Metadata) > 0 {
			item.Details = json.RawMessage(log.Metadata)
		}
		responses = append(responses, item)
	}
	return responses
}

func stringValue(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return *value
}
