package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/repostdhq/repostd/internal/auth"
)

type AuthHandler struct {
	creds     *auth.Credentials
	jwtSecret string
	expiresIn time.Duration
}

func NewAuthHandler(creds *auth.Credentials, jwtSecret string, expiresIn time.Duration) *AuthHandler {
	return &AuthHandler{creds: creds, jwtSecret: jwtSecret, expiresIn: expiresIn}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !h.creds.Verify(req.Username, req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	token, expiresAt, err := auth.GenerateToken(req.Username, h.jwtSecret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}
