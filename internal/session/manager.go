// Package session owns the lifecycle of platform user sessions: the
// sign-in flow with its parked pending connections, the live session map,
// and recovery of authorized sessions after a restart.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/repostdhq/repostd/internal/platform"
	"github.com/repostdhq/repostd/internal/store"
)

// Status is the outcome of a StartSession call.
type Status string

const (
	// StatusOK means the session is live and listening.
	StatusOK Status = "ok"
	// StatusAwaitingCode means a one-time code was sent and the connection
	// is parked until the code is submitted.
	StatusAwaitingCode Status = "awaiting_code"
)

// AuthError reports a sign-in failure with a caller-facing reason.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Store is the account persistence the manager needs.
type Store interface {
	GetAccount(ctx context.Context, id string) (store.Account, error)
	UpdateAuthState(ctx context.Context, id string, state store.AuthState) error
	ClearSessionArtifact(ctx context.Context, id string) error
	ListAccountsWithCredentials(ctx context.Context) ([]store.Account, error)
	ListSourceChannels(ctx context.Context, accountID string) ([]store.SourceChannel, error)
}

// Listeners re-binds source channels onto live sessions.
type Listeners interface {
	Attach(chatID int64, session platform.Session) error
	DetachSession(session platform.Session)
}

// AccountStatus is one row of a Statuses snapshot.
type AccountStatus struct {
	AccountID string `json:"account_id"`
	Live      bool   `json:"live"`
	Pending   bool   `json:"pending"`
}

// Manager tracks at most one live and at most one pending session per
// account. All map access goes through one mutex; platform I/O happens
// outside critical paths where possible but sign-in transitions are
// serialized per call.
type Manager struct {
	logger      *slog.Logger
	store       Store
	dialer      platform.Dialer
	listeners   Listeners
	sessionsDir string

	mu      sync.Mutex
	live    map[string]platform.Session
	pending map[string]platform.Session
}

// NewManager creates a Manager storing session artifacts under sessionsDir.
func NewManager(log *slog.Logger, st Store, dialer platform.Dialer, listeners Listeners, sessionsDir string) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		logger:      log.With(slog.String("component", "session")),
		store:       st,
		dialer:      dialer,
		listeners:   listeners,
		sessionsDir: sessionsDir,
		live:        map[string]platform.Session{},
		pending:     map[string]platform.Session{},
	}
}

func (m *Manager) artifactPath(account store.Account) string {
	name := account.SessionName
	if name == "" {
		name = fmt.Sprintf("acc_%d", account.ExternalUserID)
	}
	return filepath.Join(m.sessionsDir, name+".session")
}

// StartSession drives the sign-in flow for one account. With an empty
// code it either resumes an authorized artifact (StatusOK) or requests a
// one-time code and parks the connection (StatusAwaitingCode). With a
// code it completes sign-in on the parked connection. Calling it for an
// already-live account refreshes channel subscriptions and returns
// StatusOK.
func (m *Manager) StartSession(ctx context.Context, accountID, code string) (Status, error) {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", &AuthError{Reason: "account not found"}
		}
		return "", fmt.Errorf("load account: %w", err)
	}
	if !account.HasCredentials() {
		return "", &AuthError{Reason: "credentials not configured"}
	}

	if code != "" {
		return m.completeSignIn(ctx, account, code)
	}

	if sess, ok := m.Session(accountID); ok {
		if err := m.resubscribe(ctx, accountID, sess); err != nil {
			return "", err
		}
		return StatusOK, nil
	}

	sess, err := m.dialer.Dial(ctx, platform.Credentials{
		APIID:   account.APIID,
		APIHash: account.APIHash,
		Phone:   account.Phone,
	}, m.artifactPath(account))
	if err != nil {
		return "", &AuthError{Reason: "connect failed", Err: err}
	}

	authorized, err := sess.IsAuthorized(ctx)
	if err != nil {
		_ = sess.Disconnect(ctx)
		return "", &AuthError{Reason: "authorization check failed", Err: err}
	}
	if authorized {
		return StatusOK, m.adopt(ctx, account, sess)
	}

	if err := sess.RequestCode(ctx); err != nil {
		_ = sess.Disconnect(ctx)
		return "", &AuthError{Reason: "code request failed", Err: err}
	}
	m.park(ctx, accountID, sess)
	if err := m.store.UpdateAuthState(ctx, accountID, store.AuthStateAwaitingCode); err != nil {
		m.logger.Warn("persist auth state failed",
			slog.String("account_id", accountID), slog.Any("error", err))
	}
	return StatusAwaitingCode, nil
}

func (m *Manager) completeSignIn(ctx context.Context, account store.Account, code string) (Status, error) {
	sess := m.takePending(account.ID)
	if sess == nil {
		return "", &AuthError{Reason: "no pending sign-in, request a code first"}
	}

	if err := sess.SignIn(ctx, code); err != nil {
		_ = sess.Disconnect(ctx)
		if uerr := m.store.UpdateAuthState(ctx, account.ID, store.AuthStateCredentialsStored); uerr != nil {
			m.logger.Warn("persist auth state failed",
				slog.String("account_id", account.ID), slog.Any("error", uerr))
		}
		switch {
		case errors.Is(err, platform.ErrCodeExpired):
			return "", &AuthError{Reason: "code expired or invalid", Err: err}
		case errors.Is(err, platform.ErrPasswordNeeded):
			return "", &AuthError{Reason: "two-factor password required, not supported", Err: err}
		default:
			return "", &AuthError{Reason: "sign-in failed", Err: err}
		}
	}
	return StatusOK, m.adopt(ctx, account, sess)
}

// adopt installs sess as the account's live session, persists the
// authorized state and re-attaches the account's stored source channels.
func (m *Manager) adopt(ctx context.Context, account store.Account, sess platform.Session) error {
	m.mu.Lock()
	if old, ok := m.live[account.ID]; ok && old != sess {
		m.listeners.DetachSession(old)
		_ = old.Disconnect(ctx)
	}
	m.live[account.ID] = sess
	m.mu.Unlock()

	if err := m.store.UpdateAuthState(ctx, account.ID, store.AuthStateAuthorized); err != nil {
		m.logger.Warn("persist auth state failed",
			slog.String("account_id", account.ID), slog.Any("error", err))
	}
	m.logger.Info("session live", slog.String("account_id", account.ID))
	return m.resubscribe(ctx, account.ID, sess)
}

// resubscribe attaches every stored source channel. Attach is idempotent,
// so re-running it for already-bound channels is harmless.
func (m *Manager) resubscribe(ctx context.Context, accountID string, sess platform.Session) error {
	channels, err := m.store.ListSourceChannels(ctx, accountID)
	if err != nil {
		return fmt.Errorf("list source channels: %w", err)
	}
	for _, ch := range channels {
		if err := m.listeners.Attach(ch.ChatID, sess); err != nil {
			m.logger.Error("attach channel failed",
				slog.String("account_id", accountID),
				slog.Int64("chat_id", ch.ChatID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (m *Manager) park(ctx context.Context, accountID string, sess platform.Session) {
	m.mu.Lock()
	old := m.pending[accountID]
	m.pending[accountID] = sess
	m.mu.Unlock()
	if old != nil && old != sess {
		_ = old.Disconnect(ctx)
	}
}

func (m *Manager) takePending(accountID string) platform.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.pending[accountID]
	delete(m.pending, accountID)
	return sess
}

// Session returns the account's live session without touching storage or
// the network.
func (m *Manager) Session(accountID string) (platform.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.live[accountID]
	return sess, ok
}

// StopSession disconnects and forgets the account's live and pending
// sessions. Stopping an account with no session is a no-op.
func (m *Manager) StopSession(ctx context.Context, accountID string) {
	m.mu.Lock()
	live := m.live[accountID]
	pending := m.pending[accountID]
	delete(m.live, accountID)
	delete(m.pending, accountID)
	m.mu.Unlock()

	if live != nil {
		m.listeners.DetachSession(live)
		if err := live.Disconnect(ctx); err != nil {
			m.logger.Warn("disconnect failed",
				slog.String("account_id", accountID), slog.Any("error", err))
		}
	}
	if pending != nil {
		_ = pending.Disconnect(ctx)
	}
	if live != nil || pending != nil {
		m.logger.Info("session stopped", slog.String("account_id", accountID))
	}
}

// RecoverAll resumes sessions for every account with stored credentials.
// Accounts whose artifact is missing or no longer authorized are skipped:
// the artifact reference is cleared and the account drops back to the
// credentials-stored state. No sign-in codes are requested during
// recovery.
func (m *Manager) RecoverAll(ctx context.Context) error {
	accounts, err := m.store.ListAccountsWithCredentials(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, account := range accounts {
		if account.SessionName == "" {
			continue
		}
		path := m.artifactPath(account)
		if _, err := os.Stat(path); err != nil {
			m.logger.Warn("session artifact missing, clearing",
				slog.String("account_id", account.ID))
			if cerr := m.store.ClearSessionArtifact(ctx, account.ID); cerr != nil {
				m.logger.Error("clear artifact failed",
					slog.String("account_id", account.ID), slog.Any("error", cerr))
			}
			continue
		}
		sess, err := m.dialer.Dial(ctx, platform.Credentials{
			APIID:   account.APIID,
			APIHash: account.APIHash,
			Phone:   account.Phone,
		}, path)
		if err != nil {
			m.logger.Error("recover dial failed",
				slog.String("account_id", account.ID), slog.Any("error", err))
			continue
		}
		authorized, err := sess.IsAuthorized(ctx)
		if err != nil || !authorized {
			_ = sess.Disconnect(ctx)
			m.logger.Warn("session artifact invalid, clearing",
				slog.String("account_id", account.ID), slog.Any("error", err))
			if cerr := m.store.ClearSessionArtifact(ctx, account.ID); cerr != nil {
				m.logger.Error("clear artifact failed",
					slog.String("account_id", account.ID), slog.Any("error", cerr))
			}
			continue
		}
		if err := m.adopt(ctx, account, sess); err != nil {
			m.logger.Error("recover attach failed",
				slog.String("account_id", account.ID), slog.Any("error", err))
		}
	}
	return nil
}

// Statuses returns a snapshot of known sessions sorted by account id.
func (m *Manager) Statuses() []AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]*AccountStatus{}
	for id := range m.live {
		seen[id] = &AccountStatus{AccountID: id, Live: true}
	}
	for id := range m.pending {
		if st, ok := seen[id]; ok {
			st.Pending = true
			continue
		}
		seen[id] = &AccountStatus{AccountID: id, Pending: true}
	}
	out := make([]AccountStatus, 0, len(seen))
	for _, st := range seen {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Shutdown stops every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.live)+len(m.pending))
	for id := range m.live {
		ids = append(ids, id)
	}
	for id := range m.pending {
		if _, ok := m.live[id]; !ok {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.StopSession(ctx, id)
	}
}
