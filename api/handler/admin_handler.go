package handler

import (
	"errors"
	"net/http"
	"strconv"

	"cardlink/api/middleware"
	"cardlink/internal/dto"
	"cardlink/internal/entity"
	"cardlink/internal/service"

	"github.com/labstack/echo/v4"
)

var errInvalidUserID = errors.New("invalid user id")

func (h *AuthHandler) AdminListUsers(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	accounts, err := h.Service.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    dto.UserResponsesFromEntities(accounts),
	})
}

func (h *AuthHandler) AdminProvisionUser(c echo.Context) error {
	var req dto.ProvisionAccountRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	role, _ := middleware.RoleFromContext(c)
	input := service.ProvisionAccountInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		Role:      entity.AccountRole(req.Role),
		ActorRole: entity.AccountRole(role),
	}
	account, err := h.Service.ProvisionAccount(c.Request().Context(), input)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"user":    dto.UserResponseFromEntity(account),
	})
}

func (h *AuthHandler) AdminSetUserStatus(c echo.Context) error {
	userID, ok := parseUserIDParam(c)
	if !ok {
		return writeError(c, http.StatusBadRequest, errInvalidUserID)
	}
	var req dto.AccountStatusRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	actorID, _ := middleware.UserIDFromContext(c)
	actorRole, _ := middleware.RoleFromContext(c)
	input := service.AccountStatusInput{
		ActorID:   actorID,
		ActorRole: entity.AccountRole(actorRole),
		UserID:    userID,
		Active:    *req.IsActive,
	}
	if err := h.Service.ChangeAccountStatus(c.Request().Context(), input); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "account status updated"})
}

func (h *AuthHandler) AdminUserActivity(c echo.Context) error {
	userID, ok := parseUserIDParam(c)
	if !ok {
		return writeError(c, http.StatusBadRequest, errInvalidUserID)
	}
	return h.listActivity(c, userID)
}

func parseUserIDParam(c echo.Context) (uint, bool) {
	value, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || value == 0 {
		return 0, false
	}
	return uint(value), true
}
