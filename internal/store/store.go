// Package store is the persistence layer for accounts, channels, topics,
// and ingested posts. All operations are single short-lived queries; no
// transaction spans a network call.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates a missing account, channel, or topic reference.
var ErrNotFound = errors.New("not found")

// AuthState tracks an account's position in the authentication flow.
type AuthState string

const (
	AuthStateUnconfigured      AuthState = "unconfigured"
	AuthStateCredentialsStored AuthState = "credentials_stored"
	AuthStateAwaitingCode      AuthState = "awaiting_code"
	AuthStateAuthorized        AuthState = "authorized"
)

// Account is one end-user's platform identity and credentials.
type Account struct {
	ID             string
	ExternalUserID int64
	APIID          int
	APIHash        string
	Phone          string
	SessionName    string
	AuthState      AuthState
	CreatedAt      time.Time
}

// HasCredentials reports whether the account has platform credentials on file.
func (a Account) HasCredentials() bool {
	return a.APIID != 0 && strings.TrimSpace(a.APIHash) != "" && strings.TrimSpace(a.Phone) != ""
}

// SourceChannel is a channel an account listens to.
type SourceChannel struct {
	ID        int64
	AccountID string
	ChatID    int64
	Title     string
}

// DestinationChannel is a channel an account publishes reposts to.
type DestinationChannel struct {
	ID            int64
	AccountID     string
	ChatID        int64
	Title         string
	RewritePrompt string
	ImagePrompt   string
	IncludeImage  bool
}

// Destination pairs a destination channel with its topic allow-list.
type Destination struct {
	DestinationChannel
	Topics []string
}

// Topic is one label from the global classification vocabulary.
type Topic struct {
	ID   int64
	Name string
}

// Post is one ingested message.
type Post struct {
	ID        int64
	ChatID    int64
	MessageID int64
	Text      string
	PostedAt  time.Time
}

// DB is the pgx query surface the store needs; *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides CRUD over the repost schema.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store on the given database handle.
func New(log *slog.Logger, db DB) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     db,
		logger: log.With(slog.String("component", "store")),
	}
}

const accountColumns = "id, external_user_id, api_id, api_hash, phone, session_name, auth_state, created_at"

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.ExternalUserID, &a.APIID, &a.APIHash, &a.Phone, &a.SessionName, &a.AuthState, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// GetAccount loads an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (Account, error) {
	row := s.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)
	return scanAccount(row)
}

// GetAccountByExternalID loads an account by the external user id.
func (s *Store) GetAccountByExternalID(ctx context.Context, externalUserID int64) (Account, error) {
	row := s.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE external_user_id = $1", externalUserID)
	return scanAccount(row)
}

// GetOrCreateAccount returns the account for the external user id,
// creating an unconfigured one if absent.
func (s *Store) GetOrCreateAccount(ctx context.Context, externalUserID int64) (Account, error) {
	account, err := s.GetAccountByExternalID(ctx, externalUserID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, err
	}
	id := uuid.NewString()
	row := s.db.QueryRow(ctx,
		`INSERT INTO accounts (id, external_user_id, auth_state)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (external_user_id) DO UPDATE SET external_user_id = EXCLUDED.external_user_id
		 RETURNING `+accountColumns,
		id, externalUserID, AuthStateUnconfigured,
	)
	return scanAccount(row)
}

// SetCredentials stores platform credentials, derives the session-artifact
// name, and moves the account to credentials_stored.
func (s *Store) SetCredentials(ctx context.Context, accountID string, apiID int, apiHash, phone string) (Account, error) {
	if apiID == 0 || strings.TrimSpace(apiHash) == "" || strings.TrimSpace(phone) == "" {
		return Account{}, fmt.Errorf("api id, api hash, and phone are required")
	}
	row := s.db.QueryRow(ctx,
		`UPDATE accounts
		 SET api_id = $2, api_hash = $3, phone = $4,
		     session_name = 'acc_' || external_user_id::text,
		     auth_state = $5
		 WHERE id = $1
		 RETURNING `+accountColumns,
		accountID, apiID, strings.TrimSpace(apiHash), strings.TrimSpace(phone), AuthStateCredentialsStored,
	)
	return scanAccount(row)
}

// UpdateAuthState persists the account's auth state.
func (s *Store) UpdateAuthState(ctx context.Context, accountID string, state AuthState) error {
	tag, err := s.db.Exec(ctx, "UPDATE accounts SET auth_state = $2 WHERE id = $1", accountID, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSessionArtifact drops the session-artifact reference while keeping
// credentials, used when a persisted session proves invalid at recovery.
func (s *Store) ClearSessionArtifact(ctx context.Context, accountID string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE accounts SET session_name = '', auth_state = $2 WHERE id = $1",
		accountID, AuthStateCredentialsStored,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAccountsWithCredentials returns every account holding credentials,
// for recovery at process start.
func (s *Store) ListAccountsWithCredentials(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE api_id <> 0 AND api_hash <> '' ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Account, 0)
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.ExternalUserID, &a.APIID, &a.APIHash, &a.Phone, &a.SessionName, &a.AuthState, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
