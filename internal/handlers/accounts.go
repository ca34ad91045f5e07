package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/repostdhq/repostd/internal/session"
	"github.com/repostdhq/repostd/internal/store"
)

type AccountHandler struct {
	store    *store.Store
	sessions *session.Manager
}

func NewAccountHandler(st *store.Store, sessions *session.Manager) *AccountHandler {
	return &AccountHandler{store: st, sessions: sessions}
}

func (h *AccountHandler) Register(e *echo.Echo) {
	group := e.Group("/api/accounts")
	group.POST("", h.CreateAccount)
	group.GET("/:id", h.GetAccount)
	group.PUT("/:id/credentials", h.SetCredentials)
	group.POST("/:id/session", h.StartSession)
	group.DELETE("/:id/session", h.StopSession)
}

type CreateAccountRequest struct {
	ExternalUserID int64 `json:"external_user_id"`
}

type AccountResponse struct {
	ID             string `json:"id"`
	ExternalUserID int64  `json:"external_user_id"`
	Phone          string `json:"phone,omitempty"`
	AuthState      string `json:"auth_state"`
	HasCredentials bool   `json:"has_credentials"`
}

func accountResponse(a store.Account) AccountResponse {
	return AccountResponse{
		ID:             a.ID,
		ExternalUserID: a.ExternalUserID,
		Phone:          a.Phone,
		AuthState:      string(a.AuthState),
		HasCredentials: a.HasCredentials(),
	}
}

func (h *AccountHandler) CreateAccount(c echo.Context) error {
	var req CreateAccountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ExternalUserID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "external_user_id is required")
	}
	account, err := h.store.GetOrCreateAccount(c.Request().Context(), req.ExternalUserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, accountResponse(account))
}

func (h *AccountHandler) GetAccount(c echo.Context) error {
	account, err := h.store.GetAccount(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "account not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, accountResponse(account))
}

type SetCredentialsRequest struct {
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
	Phone   string `json:"phone"`
}

func (h *AccountHandler) SetCredentials(c echo.Context) error {
	var req SetCredentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.APIID == 0 || req.APIHash == "" || req.Phone == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "api_id, api_hash and phone are required")
	}
	account, err := h.store.SetCredentials(c.Request().Context(), c.Param("id"), req.APIID, req.APIHash, req.Phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "account not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, accountResponse(account))
}

type StartSessionRequest struct {
	Code string `json:"code"`
}

type StartSessionResponse struct {
	Status string `json:"status"`
}

func (h *AccountHandler) StartSession(c echo.Context) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := h.sessions.StartSession(c.Request().Context(), c.Param("id"), req.Code)
	if err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, authErr.Reason)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, StartSessionResponse{Status: string(status)})
}

func (h *AccountHandler) StopSession(c echo.Context) error {
	h.sessions.StopSession(c.Request().Context(), c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}
