package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/repostdhq/repostd/internal/listener"
	"github.com/repostdhq/repostd/internal/platform"
	"github.com/repostdhq/repostd/internal/session"
	"github.com/repostdhq/repostd/internal/store"
)

type ChannelHandler struct {
	logger    *slog.Logger
	store     *store.Store
	sessions  *session.Manager
	listeners *listener.Registry
	sender    platform.Sender
}

func NewChannelHandler(log *slog.Logger, st *store.Store, sessions *session.Manager, listeners *listener.Registry, sender platform.Sender) *ChannelHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChannelHandler{
		logger:    log.With(slog.String("handler", "channels")),
		store:     st,
		sessions:  sessions,
		listeners: listeners,
		sender:    sender,
	}
}

func (h *ChannelHandler) Register(e *echo.Echo) {
	group := e.Group("/api/accounts/:id")
	group.GET("/sources", h.ListSources)
	group.POST("/sources", h.AddSource)
	group.DELETE("/sources/:chat_id", h.RemoveSource)
	group.GET("/destinations", h.ListDestinations)
	group.POST("/destinations", h.AddDestination)
	group.DELETE("/destinations/:chat_id", h.RemoveDestination)
	group.PUT("/destinations/:chat_id/settings", h.UpdateDestinationSettings)
}

func chatIDParam(c echo.Context) (int64, error) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid chat_id")
	}
	return chatID, nil
}

type AddChannelRequest struct {
	ChatID int64 `json:"chat_id"`
}

type AddChannelResponse struct {
	ChatID  int64  `json:"chat_id"`
	Title   string `json:"title,omitempty"`
	Created bool   `json:"created"`
}

// AddSource registers a source channel and, when the account's session is
// live, attaches the listener immediately. Title resolution is best
// effort.
func (h *ChannelHandler) AddSource(c echo.Context) error {
	var req AddChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ChatID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}
	ctx := c.Request().Context()
	accountID := c.Param("id")

	title, err := h.sender.ResolveChannelTitle(ctx, req.ChatID)
	if err != nil {
		h.logger.Warn("resolve title failed",
			slog.Int64("chat_id", req.ChatID), slog.Any("error", err))
	}
	created, err := h.store.AddSourceChannel(ctx, accountID, req.ChatID, title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sess, ok := h.sessions.Session(accountID); ok {
		if err := h.listeners.Attach(req.ChatID, sess); err != nil {
			h.logger.Error("attach failed",
				slog.Int64("chat_id", req.ChatID), slog.Any("error", err))
		}
	}
	return c.JSON(http.StatusOK, AddChannelResponse{ChatID: req.ChatID, Title: title, Created: created})
}

func (h *ChannelHandler) RemoveSource(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return err
	}
	if err := h.listeners.Detach(chatID); err != nil {
		h.logger.Warn("detach failed",
			slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
	if err := h.store.RemoveSourceChannel(c.Request().Context(), c.Param("id"), chatID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ChannelHandler) ListSources(c echo.Context) error {
	channels, err := h.store.ListSourceChannels(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, channels)
}

func (h *ChannelHandler) AddDestination(c echo.Context) error {
	var req AddChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ChatID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}
	ctx := c.Request().Context()

	title, err := h.sender.ResolveChannelTitle(ctx, req.ChatID)
	if err != nil {
		h.logger.Warn("resolve title failed",
			slog.Int64("chat_id", req.ChatID), slog.Any("error", err))
	}
	created, err := h.store.AddDestinationChannel(ctx, c.Param("id"), req.ChatID, title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, AddChannelResponse{ChatID: req.ChatID, Title: title, Created: created})
}

func (h *ChannelHandler) RemoveDestination(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return err
	}
	if err := h.store.RemoveDestinationChannel(c.Request().Context(), c.Param("id"), chatID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ChannelHandler) ListDestinations(c echo.Context) error {
	channels, err := h.store.ListDestinationChannels(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, channels)
}

type DestinationSettingsRequest struct {
	RewritePrompt string `json:"rewrite_prompt"`
	ImagePrompt   string `json:"image_prompt"`
	IncludeImage  bool   `json:"include_image"`
}

func (h *ChannelHandler) UpdateDestinationSettings(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return err
	}
	var req DestinationSettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	accountID := c.Param("id")
	if err := h.store.UpdateDestinationSettings(ctx, accountID, chatID, req.RewritePrompt, req.ImagePrompt, req.IncludeImage); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "destination not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	dest, err := h.store.GetDestinationChannel(ctx, accountID, chatID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, dest)
}
