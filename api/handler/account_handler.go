package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cardlink/api/middleware"
	"cardlink/internal/dto"
	"cardlink/internal/entity"
	"cardlink/internal/service"

	"github.com/labstack/echo/v4"
)

const maxSummaryWindowHours = 24 * 90

var errInvalidQuery = errors.New("invalid query parameters")

func (h *AuthHandler) Me(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errUnauthorized)
	}
	account, err := h.Service.GetCurrentUser(c.Request().Context(), userID)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	if account == nil {
		return writeError(c, http.StatusNotFound, service.ErrUserNotFound)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "user": dto.UserResponseFromEntity(account)})
}

func (h *AuthHandler) DeleteAccount(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errUnauthorized)
	}
	var req dto.DeleteAccountRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.DeleteAccount(c.Request().Context(), userID, req.Password); err != nil {
		return h.writeServiceError(c, err)
	}
	h.clearSessionCookie(c)
	return c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "account deleted"})
}

func (h *AuthHandler) MyActivity(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errUnauthorized)
	}
	return h.listActivity(c, userID)
}

func (h *AuthHandler) MySecuritySummary(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errUnauthorized)
	}
	hours := 24
	if raw := c.QueryParam("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxSummaryWindowHours {
			return writeError(c, http.StatusBadRequest, errInvalidQuery)
		}
		hours = parsed
	}
	summary, err := h.Service.SecuritySummary(c.Request().Context(), userID, time.Duration(hours)*time.Hour)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.SecuritySummaryResponse{
		Success:      true,
		FailedLogins: summary.FailedLogins,
		WindowHours:  int(summary.Window / time.Hour),
	})
}

func (h *AuthHandler) listActivity(c echo.Context, userID uint) error {
	query, err := parseActivityQuery(c)
	if err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	query.UserID = userID
	logs, err := h.Service.ListActivity(c.Request().Context(), query)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.ActivityListResponse{
		Success: true,
		Data:    dto.ActivityLogsFromEntities(logs),
	})
}

// parseActivityQuery reads type (repeatable or comma separated), from and to
// (RFC 3339), device, browser, limit and offset.
func parseActivityQuery(c echo.Context) (service.ActivityQuery, error) {
	var query service.ActivityQuery
	for _, raw := range c.QueryParams()["type"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			query.Types = append(query.Types, entity.ActivityType(value))
		}
	}
	if raw := c.QueryParam("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, errInvalidQuery
		}
		from = from.UTC()
		query.From = &from
	}
	if raw := c.QueryParam("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, errInvalidQuery
		}
		to = to.UTC()
		query.To = &to
	}
	query.DeviceType = strings.TrimSpace(c.QueryParam("device"))
	query.Browser = strings.TrimSpace(c.QueryParam("browser"))
	query.Limit, query.Offset = parseLimitOffset(c)
	if query.Limit < 0 || query.Offset < 0 {
		return query, errInvalidQuery
	}
	return query, nil
}

func parseLimitOffset(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}
