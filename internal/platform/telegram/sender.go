// Package telegram implements the delivery half of the platform send API
// on the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/repostdhq/repostd/internal/platform"
)

const maxCaptionLength = 1024

// Sender delivers reposts through a single bot account.
type Sender struct {
	logger *slog.Logger
	token  string

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewSender creates a Sender for the given bot token. The bot client is
// created lazily on first use.
func NewSender(log *slog.Logger, token string) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		logger: log.With(slog.String("component", "telegram")),
		token:  token,
	}
}

func (s *Sender) getBot() (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot != nil {
		return s.bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(s.token)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("create bot failed", slog.Any("error", err))
		}
		return nil, &platform.TransportError{Op: "connect", Err: err}
	}
	s.bot = bot
	return bot, nil
}

// SendMessage posts plain text to a channel.
func (s *Sender) SendMessage(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		return fmt.Errorf("message text is required")
	}
	bot, err := s.getBot()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return &platform.TransportError{Op: "send message", Err: err}
	}
	return nil
}

// SendPhoto posts an image with the text as caption. Captions above the
// platform limit are sent as a separate follow-up message.
func (s *Sender) SendPhoto(ctx context.Context, chatID int64, image []byte, caption string) error {
	if len(image) == 0 {
		return fmt.Errorf("image bytes are required")
	}
	bot, err := s.getBot()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "post.png", Bytes: image})
	followUp := ""
	if len(caption) <= maxCaptionLength {
		photo.Caption = caption
	} else {
		followUp = caption
	}
	if _, err := bot.Send(photo); err != nil {
		return &platform.TransportError{Op: "send photo", Err: err}
	}
	if followUp != "" {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, followUp)); err != nil {
			return &platform.TransportError{Op: "send message", Err: err}
		}
	}
	return nil
}

// ResolveChannelTitle looks up a channel's display title.
func (s *Sender) ResolveChannelTitle(ctx context.Context, chatID int64) (string, error) {
	bot, err := s.getBot()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return "", &platform.TransportError{Op: "get chat", Err: err}
	}
	return chat.Title, nil
}
