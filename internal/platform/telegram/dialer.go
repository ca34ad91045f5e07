package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/repostdhq/repostd/internal/platform"
)

// channelChatIDOffset converts a bare MTProto channel id into the signed
// chat id used everywhere else in the system (and by the delivery bot).
const channelChatIDOffset = int64(1_000_000_000_000)

func chatIDFromChannel(channelID int64) int64 {
	return -(channelChatIDOffset + channelID)
}

// Dialer opens MTProto user sessions backed by on-disk session files.
type Dialer struct {
	logger *slog.Logger
}

// NewDialer creates a Dialer.
func NewDialer(log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{logger: log.With(slog.String("component", "telegram"))}
}

// Dial connects a client for the given credentials. The connection stays
// up until Disconnect; the session file at sessionPath is created and
// updated by the client itself.
func (d *Dialer) Dial(ctx context.Context, creds platform.Credentials, sessionPath string) (platform.Session, error) {
	dispatcher := tg.NewUpdateDispatcher()
	client := telegram.NewClient(creds.APIID, creds.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
		UpdateHandler:  dispatcher,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &mtSession{
		logger:   d.logger,
		client:   client,
		phone:    creds.Phone,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: map[platform.HandlerToken]subscription{},
	}
	dispatcher.OnNewChannelMessage(s.onChannelMessage)

	ready := make(chan struct{})
	runErr := make(chan error, 1)
	go func() {
		defer close(s.done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case runErr <- err:
			default:
			}
			d.logger.Warn("client stopped", slog.Any("error", err))
		}
	}()

	select {
	case <-ready:
		return s, nil
	case err := <-runErr:
		cancel()
		return nil, &platform.TransportError{Op: "connect", Err: err}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		cancel()
		return nil, &platform.TransportError{Op: "connect", Err: fmt.Errorf("connect timeout")}
	}
}

type subscription struct {
	chatID  int64
	handler platform.Handler
}

// mtSession is one live MTProto connection.
type mtSession struct {
	logger *slog.Logger
	client *telegram.Client
	phone  string

	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	codeHash     string
	nextToken    platform.HandlerToken
	handlers     map[platform.HandlerToken]subscription
	disconnected bool
}

func (s *mtSession) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := s.client.Auth().Status(ctx)
	if err != nil {
		return false, &platform.TransportError{Op: "auth status", Err: err}
	}
	return status.Authorized, nil
}

func (s *mtSession) RequestCode(ctx context.Context) error {
	sent, err := s.client.Auth().SendCode(ctx, s.phone, auth.SendCodeOptions{})
	if err != nil {
		return &platform.TransportError{Op: "send code", Err: err}
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return &platform.TransportError{Op: "send code", Err: fmt.Errorf("unexpected response %T", sent)}
	}
	s.mu.Lock()
	s.codeHash = code.PhoneCodeHash
	s.mu.Unlock()
	return nil
}

func (s *mtSession) SignIn(ctx context.Context, code string) error {
	s.mu.Lock()
	codeHash := s.codeHash
	s.mu.Unlock()
	if codeHash == "" {
		return platform.ErrCodeExpired
	}
	_, err := s.client.Auth().SignIn(ctx, s.phone, code, codeHash)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return platform.ErrPasswordNeeded
	case tgerr.Is(err, "PHONE_CODE_INVALID"), tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return platform.ErrCodeExpired
	default:
		return &platform.TransportError{Op: "sign in", Err: err}
	}
}

func (s *mtSession) Subscribe(chatID int64, handler platform.Handler) (platform.HandlerToken, error) {
	if handler == nil {
		return 0, fmt.Errorf("handler is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return 0, fmt.Errorf("session is disconnected")
	}
	s.nextToken++
	token := s.nextToken
	s.handlers[token] = subscription{chatID: chatID, handler: handler}
	return token, nil
}

func (s *mtSession) Unsubscribe(token platform.HandlerToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, token)
	return nil
}

func (s *mtSession) onChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return nil
	}
	ev := platform.Event{
		ChatID:     chatIDFromChannel(peer.ChannelID),
		MessageID:  int64(msg.ID),
		Text:       msg.Message,
		ReceivedAt: time.Now(),
	}

	s.mu.Lock()
	var targets []platform.Handler
	for _, sub := range s.handlers {
		if sub.chatID == ev.ChatID {
			targets = append(targets, sub.handler)
		}
	}
	s.mu.Unlock()

	// Handlers run off the update goroutine: one slow pipeline must not
	// stall the session's update stream.
	for _, handler := range targets {
		go handler(ctx, ev)
	}
	return nil
}

func (s *mtSession) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	already := s.disconnected
	s.disconnected = true
	s.handlers = map[platform.HandlerToken]subscription{}
	s.mu.Unlock()
	if already {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
