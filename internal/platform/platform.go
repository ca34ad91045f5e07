// Package platform defines the boundary to the messaging platform: live
// user sessions for listening, and the send API for delivery. The concrete
// session transport is owned by implementations; everything here is the
// interface surface the rest of the system depends on.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCodeExpired indicates the one-time sign-in code was expired or invalid.
var ErrCodeExpired = errors.New("sign-in code expired or invalid")

// ErrPasswordNeeded indicates the account requires a two-factor password,
// which is not supported.
var ErrPasswordNeeded = errors.New("two-factor password required")

// TransportError wraps a network or platform-call failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("platform %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Credentials identifies an application + phone on the platform.
type Credentials struct {
	APIID   int
	APIHash string
	Phone   string
}

// Event is one new message observed on a subscribed channel.
type Event struct {
	ChatID     int64
	MessageID  int64
	Text       string
	ReceivedAt time.Time
}

// Handler consumes inbound events for one subscribed channel.
type Handler func(ctx context.Context, ev Event)

// HandlerToken is the opaque registration handle returned by Subscribe,
// used for removal. Tokens are never reused within a session.
type HandlerToken uint64

// Session is a live connection to the platform for one account.
type Session interface {
	// IsAuthorized reports whether the connection is signed in.
	IsAuthorized(ctx context.Context) (bool, error)
	// RequestCode asks the platform to send a one-time code to the
	// account's phone.
	RequestCode(ctx context.Context) error
	// SignIn completes authentication with the one-time code. Returns
	// ErrCodeExpired or ErrPasswordNeeded for the recognized failures.
	SignIn(ctx context.Context, code string) error
	// Subscribe registers a new-message handler scoped to one channel.
	Subscribe(chatID int64, handler Handler) (HandlerToken, error)
	// Unsubscribe removes a previously registered handler.
	Unsubscribe(token HandlerToken) error
	// Disconnect closes the connection. Safe to call more than once.
	Disconnect(ctx context.Context) error
}

// Dialer opens platform connections from stored credentials and the
// per-account session artifact on disk.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials, sessionPath string) (Session, error)
}

// Sender is the platform's send API used for delivery.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, image []byte, caption string) error
	ResolveChannelTitle(ctx context.Context, chatID int64) (string, error)
}
