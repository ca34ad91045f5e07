// Package ingest turns inbound channel events into persisted, classified
// posts and hands them to routing. A failure while handling one event is
// logged and contained; it never reaches the platform dispatch loop.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/repostdhq/repostd/internal/classify"
	"github.com/repostdhq/repostd/internal/platform"
	"github.com/repostdhq/repostd/internal/store"
)

// Store is the post persistence the handler needs.
type Store interface {
	CreatePost(ctx context.Context, chatID, messageID int64, text string) (store.Post, error)
	AddPostTopics(ctx context.Context, postID int64, topicNames []string) error
	TopicNames(ctx context.Context) ([]string, error)
}

// Classifier assigns topic labels to post text.
type Classifier interface {
	AssignTopics(ctx context.Context, text string, candidates []string) ([]string, error)
}

// Router fans a classified post out to matching destinations.
type Router interface {
	Route(ctx context.Context, postID int64, text string) error
}

// Pool runs blocking external calls off the dispatch path.
type Pool interface {
	Do(ctx context.Context, fn func()) error
}

// Handler processes one inbound event end to end: persist, classify,
// route.
type Handler struct {
	logger     *slog.Logger
	store      Store
	classifier Classifier
	router     Router
	pool       Pool
}

// NewHandler creates a Handler.
func NewHandler(log *slog.Logger, st Store, classifier Classifier, router Router, pool Pool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		logger:     log.With(slog.String("component", "ingest")),
		store:      st,
		classifier: classifier,
		router:     router,
		pool:       pool,
	}
}

// Handle is the platform event handler. Empty-text events are dropped.
func (h *Handler) Handle(ctx context.Context, ev platform.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("ingest panic",
				slog.Int64("chat_id", ev.ChatID),
				slog.Int64("message_id", ev.MessageID),
				slog.Any("panic", r))
		}
	}()

	if strings.TrimSpace(ev.Text) == "" {
		h.logger.Debug("empty message skipped",
			slog.Int64("chat_id", ev.ChatID), slog.Int64("message_id", ev.MessageID))
		return
	}

	post, err := h.store.CreatePost(ctx, ev.ChatID, ev.MessageID, ev.Text)
	if err != nil {
		h.logger.Error("persist post failed",
			slog.Int64("chat_id", ev.ChatID),
			slog.Int64("message_id", ev.MessageID),
			slog.Any("error", err))
		return
	}

	topics := h.classifyPost(ctx, post)
	if len(topics) > 0 {
		if err := h.store.AddPostTopics(ctx, post.ID, topics); err != nil {
			h.logger.Error("persist topics failed",
				slog.Int64("post_id", post.ID), slog.Any("error", err))
		}
	}

	if err := h.router.Route(ctx, post.ID, post.Text); err != nil {
		h.logger.Error("route failed",
			slog.Int64("post_id", post.ID), slog.Any("error", err))
	}
}

// classifyPost runs classification on the pool. A classification failure
// degrades to zero topics so the post is still recorded.
func (h *Handler) classifyPost(ctx context.Context, post store.Post) []string {
	candidates, err := h.store.TopicNames(ctx)
	if err != nil {
		h.logger.Error("load topics failed",
			slog.Int64("post_id", post.ID), slog.Any("error", err))
		return nil
	}

	var (
		labels []string
		cerr   error
	)
	if err := h.pool.Do(ctx, func() {
		labels, cerr = h.classifier.AssignTopics(ctx, post.Text, candidates)
	}); err != nil {
		h.logger.Error("classification not run",
			slog.Int64("post_id", post.ID), slog.Any("error", err))
		return nil
	}
	if cerr != nil {
		var clsErr *classify.ClassificationError
		if errors.As(cerr, &clsErr) {
			h.logger.Warn("classification failed, post gets no topics",
				slog.Int64("post_id", post.ID), slog.Any("error", cerr))
		} else {
			h.logger.Error("classification failed",
				slog.Int64("post_id", post.ID), slog.Any("error", cerr))
		}
		return nil
	}
	return labels
}
