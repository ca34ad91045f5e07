package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/repostdhq/repostd/internal/listener"
	"github.com/repostdhq/repostd/internal/session"
)

type StatusHandler struct {
	sessions  *session.Manager
	listeners *listener.Registry
}

func NewStatusHandler(sessions *session.Manager, listeners *listener.Registry) *StatusHandler {
	return &StatusHandler{sessions: sessions, listeners: listeners}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/api/status", h.Status)
}

type StatusResponse struct {
	Sessions  []session.AccountStatus `json:"sessions"`
	Listeners []listener.Subscription `json:"listeners"`
}

func (h *StatusHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Sessions:  h.sessions.Statuses(),
		Listeners: h.listeners.Snapshot(),
	})
}
