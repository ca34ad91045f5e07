// Package fanout delivers classified posts to every destination whose
// topic allow-list intersects the post's topics. Each matching
// destination is handled in its own goroutine; one destination's failure
// never blocks or aborts the others.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/repostdhq/repostd/internal/platform"
	"github.com/repostdhq/repostd/internal/store"
)

// Store is the routing data the router needs.
type Store interface {
	GetPostTopics(ctx context.Context, postID int64) ([]string, error)
	ListDestinationsWithTopics(ctx context.Context) ([]store.Destination, error)
}

// Rewriter transforms text under a destination's prompt.
type Rewriter interface {
	Rewrite(ctx context.Context, text, prompt string) (string, error)
}

// ImageGenerator produces an illustration for a post.
type ImageGenerator interface {
	Generate(ctx context.Context, text, stylePrompt string) ([]byte, error)
}

// Pool runs blocking external calls off the dispatch path.
type Pool interface {
	Do(ctx context.Context, fn func()) error
}

// Router fans one post out to all matching destinations.
type Router struct {
	logger   *slog.Logger
	store    Store
	sender   platform.Sender
	rewriter Rewriter
	images   ImageGenerator
	pool     Pool
}

// NewRouter creates a Router.
func NewRouter(log *slog.Logger, st Store, sender platform.Sender, rewriter Rewriter, images ImageGenerator, pool Pool) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		logger:   log.With(slog.String("component", "fanout")),
		store:    st,
		sender:   sender,
		rewriter: rewriter,
		images:   images,
		pool:     pool,
	}
}

// Route delivers the post to every destination whose topics intersect
// the post's. A post with no topics, or with no matching destinations,
// is dropped. Route returns only when every delivery attempt finished.
func (r *Router) Route(ctx context.Context, postID int64, text string) error {
	topics, err := r.store.GetPostTopics(ctx, postID)
	if err != nil {
		return fmt.Errorf("load post topics: %w", err)
	}
	if len(topics) == 0 {
		r.logger.Debug("post has no topics", slog.Int64("post_id", postID))
		return nil
	}

	destinations, err := r.store.ListDestinationsWithTopics(ctx)
	if err != nil {
		return fmt.Errorf("load destinations: %w", err)
	}

	var wg sync.WaitGroup
	matched := 0
	for _, dest := range destinations {
		if !intersects(topics, dest.Topics) {
			continue
		}
		matched++
		wg.Add(1)
		go func(dest store.Destination) {
			defer wg.Done()
			r.deliver(ctx, postID, text, dest)
		}(dest)
	}
	wg.Wait()

	r.logger.Info("post routed",
		slog.Int64("post_id", postID),
		slog.Int("destinations", matched))
	return nil
}

// deliver prepares and sends the post to one destination. Rewrite
// failure falls back to the original text; image failure falls back to a
// text-only send.
func (r *Router) deliver(ctx context.Context, postID int64, text string, dest store.Destination) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("delivery panic",
				slog.Int64("post_id", postID),
				slog.Int64("chat_id", dest.ChatID),
				slog.Any("panic", rec))
		}
	}()

	out := text
	if dest.RewritePrompt != "" {
		rewritten, err := r.rewriteText(ctx, text, dest.RewritePrompt)
		if err != nil {
			r.logger.Warn("rewrite failed, delivering original text",
				slog.Int64("post_id", postID),
				slog.Int64("chat_id", dest.ChatID),
				slog.Any("error", err))
		} else {
			out = rewritten
		}
	}

	var image []byte
	if dest.IncludeImage {
		data, err := r.generateImage(ctx, text, dest.ImagePrompt)
		if err != nil {
			r.logger.Warn("image generation failed, delivering text only",
				slog.Int64("post_id", postID),
				slog.Int64("chat_id", dest.ChatID),
				slog.Any("error", err))
		} else {
			image = data
		}
	}

	var err error
	if image != nil {
		err = r.sender.SendPhoto(ctx, dest.ChatID, image, out)
	} else {
		err = r.sender.SendMessage(ctx, dest.ChatID, out)
	}
	if err != nil {
		r.logger.Error("delivery failed",
			slog.Int64("post_id", postID),
			slog.Int64("chat_id", dest.ChatID),
			slog.Any("error", err))
		return
	}
	r.logger.Info("post delivered",
		slog.Int64("post_id", postID),
		slog.Int64("chat_id", dest.ChatID),
		slog.Bool("with_image", image != nil))
}

func (r *Router) rewriteText(ctx context.Context, text, prompt string) (string, error) {
	var (
		out  string
		rerr error
	)
	if err := r.pool.Do(ctx, func() {
		out, rerr = r.rewriter.Rewrite(ctx, text, prompt)
	}); err != nil {
		return "", err
	}
	return out, rerr
}

func (r *Router) generateImage(ctx context.Context, text, stylePrompt string) ([]byte, error) {
	var (
		data []byte
		gerr error
	)
	if err := r.pool.Do(ctx, func() {
		data, gerr = r.images.Generate(ctx, text, stylePrompt)
	}); err != nil {
		return nil, err
	}
	return data, gerr
}

// intersects reports whether the two topic sets share a member. Either
// set being empty means no match.
func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, name := range a {
		set[name] = struct{}{}
	}
	for _, name := range b {
		if _, ok := set[name]; ok {
			return true
		}
	}
	return false
}
