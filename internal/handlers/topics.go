package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/repostdhq/repostd/internal/store"
)

type TopicHandler struct {
	store *store.Store
}

func NewTopicHandler(st *store.Store) *TopicHandler {
	return &TopicHandler{store: st}
}

func (h *TopicHandler) Register(e *echo.Echo) {
	e.GET("/api/topics", h.ListTopics)
	group := e.Group("/api/accounts/:id/destinations/:chat_id/topics")
	group.GET("", h.ListDestinationTopics)
	group.POST("", h.AddDestinationTopic)
	group.DELETE("/:topic", h.RemoveDestinationTopic)
}

func (h *TopicHandler) ListTopics(c echo.Context) error {
	topics, err := h.store.ListTopics(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, topics)
}

type DestinationTopicRequest struct {
	Topic string `json:"topic"`
}

type DestinationTopicResponse struct {
	Topic   string `json:"topic"`
	Changed bool   `json:"changed"`
}

func (h *TopicHandler) AddDestinationTopic(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return err
	}
	var req DestinationTopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	changed, err := h.store.AddTopicToDestination(c.Request().Context(), c.Param("id"), chatID, req.Topic)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown topic or destination")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, DestinationTopicResponse{Topic: req.Topic, Changed: changed})
}

func (h *TopicHandler) RemoveDestinationTopic(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return err
	}
	topic := c.Param("topic")
	changed, err := h.store.RemoveTopicFromDestination(c.Request().Context(), c.Param("id"), chatID, topic)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown topic or destination")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, DestinationTopicResponse{Topic: topic, Changed: changed})
}

func (h *TopicHandler) ListDestinationTopics(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return err
	}
	topics, err := h.store.ListTopicsForDestination(c.Request().Context(), c.Param("id"), chatID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, topics)
}
