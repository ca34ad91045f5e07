package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repostdhq/repostd/internal/platform"
)

func channelUpdate(channelID int64, messageID int, text string) *tg.UpdateNewChannelMessage {
	return &tg.UpdateNewChannelMessage{
		Message: &tg.Message{
			ID:      messageID,
			Message: text,
			PeerID:  &tg.PeerChannel{ChannelID: channelID},
		},
	}
}

func TestChatIDFromChannel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(-1_000_000_000_123), chatIDFromChannel(123))
}

func TestChannelMessageDispatchedOffUpdateGoroutine(t *testing.T) {
	t.Parallel()

	s := &mtSession{handlers: map[platform.HandlerToken]subscription{}}

	started := make(chan platform.Event, 2)
	release := make(chan struct{})
	var done sync.WaitGroup
	done.Add(2)
	_, err := s.Subscribe(chatIDFromChannel(42), func(_ context.Context, ev platform.Event) {
		started <- ev
		<-release
		done.Done()
	})
	require.NoError(t, err)

	// Two back-to-back updates on one goroutine, the way the client
	// delivers them. Neither call may wait for a handler to finish.
	begin := time.Now()
	require.NoError(t, s.onChannelMessage(context.Background(), tg.Entities{}, channelUpdate(42, 1, "first")))
	require.NoError(t, s.onChannelMessage(context.Background(), tg.Entities{}, channelUpdate(42, 2, "second")))
	assert.Less(t, time.Since(begin), 200*time.Millisecond)

	// Both handlers are in flight before either is released.
	for i := 0; i < 2; i++ {
		select {
		case ev := <-started:
			assert.Equal(t, int64(-1_000_000_000_042), ev.ChatID)
		case <-time.After(time.Second):
			t.Fatal("handler was not dispatched concurrently")
		}
	}
	close(release)
	done.Wait()
}

func TestChannelMessageIgnoresOtherChats(t *testing.T) {
	t.Parallel()

	s := &mtSession{handlers: map[platform.HandlerToken]subscription{}}

	handled := make(chan platform.Event, 1)
	_, err := s.Subscribe(chatIDFromChannel(42), func(_ context.Context, ev platform.Event) {
		handled <- ev
	})
	require.NoError(t, err)

	require.NoError(t, s.onChannelMessage(context.Background(), tg.Entities{}, channelUpdate(99, 1, "elsewhere")))
	select {
	case <-handled:
		t.Fatal("handler ran for an unsubscribed chat")
	case <-time.After(50 * time.Millisecond):
	}
}
