package controller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/TinkerUnicorn/authz/internal/models"
	"github.com/TinkerUnicorn/authz/internal/service"
)

type Controller struct {
	zapLogger   *zap.SugaredLogger
	authService *service.AuthService
	registry    *service.DeviceRegistry
}

func NewController(logger *zap.SugaredLogger, authService *service.AuthService, registry *service.DeviceRegistry) *Controller {
	return &Controller{
		zapLogger:   logger,
		authService: authService,
		registry:    registry,
	}
}

// (POST /auth/login).
// Credential verification against a user store happens upstream; this
// endpoint turns an authenticated identity into a device session.
func (c *Controller) Login(ctx echo.Context) error {
	var req models.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.DeviceType == "" || req.DeviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id, device_type and device_id are required")
	}

	pair, err := c.authService.Grant(ctx.Request().Context(), req.UserID, req.DeviceType, req.DeviceID, ctx.RealIP(), time.Now())
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, models.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// (POST /auth/refresh).
func (c *Controller) Refresh(ctx echo.Context) error {
	var req models.RefreshRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "refresh_token is required")
	}

	pair, err := c.authService.Refresh(ctx.Request().Context(), req.RefreshToken, ctx.RealIP(), time.Now())
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, models.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// (POST /auth/logout).
func (c *Controller) Logout(ctx echo.Context) error {
	var req models.LogoutRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	if req.AllDevices {
		c.authService.LogoutAll(ctx.Request().Context(), req.UserID)
	} else {
		if req.DeviceType == "" || req.DeviceID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "device_type and device_id are required")
		}
		c.authService.Logout(ctx.Request().Context(), req.UserID, req.DeviceType, req.DeviceID)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// (GET /auth/devices/:user_id).
func (c *Controller) Devices(ctx echo.Context) error {
	userID := ctx.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	return ctx.JSON(http.StatusOK, c.registry.Devices(userID))
}
