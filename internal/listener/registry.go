// Package listener maintains the live bindings between source channels
// and new-message handlers on platform sessions.
package listener

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/repostdhq/repostd/internal/platform"
)

// Subscription describes one live channel binding.
type Subscription struct {
	ChatID int64 `json:"chat_id"`
}

type entry struct {
	token   platform.HandlerToken
	session platform.Session
}

// Registry holds at most one subscription per channel id. Attach and
// Detach are idempotent and safe for concurrent use; the mutex is held
// across the platform registration so concurrent attaches cannot create
// duplicate handlers.
type Registry struct {
	logger  *slog.Logger
	handler platform.Handler

	mu   sync.Mutex
	subs map[int64]entry
}

// NewRegistry creates a Registry dispatching inbound events to handler.
func NewRegistry(log *slog.Logger, handler platform.Handler) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		logger:  log.With(slog.String("component", "listener")),
		handler: handler,
		subs:    map[int64]entry{},
	}
}

// Attach subscribes the channel on the given session. Already-subscribed
// channels are a no-op.
func (r *Registry) Attach(chatID int64, session platform.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[chatID]; ok {
		return nil
	}
	token, err := session.Subscribe(chatID, r.handler)
	if err != nil {
		return fmt.Errorf("subscribe channel %d: %w", chatID, err)
	}
	r.subs[chatID] = entry{token: token, session: session}
	if r.logger != nil {
		r.logger.Info("listener attached", slog.Int64("chat_id", chatID))
	}
	return nil
}

// Detach removes the channel's subscription. Absent channels are a no-op.
func (r *Registry) Detach(chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[chatID]
	if !ok {
		return nil
	}
	delete(r.subs, chatID)
	if err := sub.session.Unsubscribe(sub.token); err != nil {
		return fmt.Errorf("unsubscribe channel %d: %w", chatID, err)
	}
	if r.logger != nil {
		r.logger.Info("listener detached", slog.Int64("chat_id", chatID))
	}
	return nil
}

// Attached reports whether the channel has a live subscription.
func (r *Registry) Attached(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[chatID]
	return ok
}

// DetachSession removes every subscription bound to the given session,
// used when a session is stopped.
func (r *Registry) DetachSession(session platform.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID, sub := range r.subs {
		if sub.session != session {
			continue
		}
		delete(r.subs, chatID)
		if err := sub.session.Unsubscribe(sub.token); err != nil && r.logger != nil {
			r.logger.Warn("unsubscribe failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		}
	}
}

// DetachAll clears the registry, removing every live handler.
func (r *Registry) DetachAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID, sub := range r.subs {
		delete(r.subs, chatID)
		if err := sub.session.Unsubscribe(sub.token); err != nil && r.logger != nil {
			r.logger.Warn("unsubscribe failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		}
	}
}

// Snapshot returns the current subscriptions sorted by chat id.
func (r *Registry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]Subscription, 0, len(r.subs))
	for chatID := range r.subs {
		items = append(items, Subscription{ChatID: chatID})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ChatID < items[j].ChatID })
	return items
}
