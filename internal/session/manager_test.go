package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repostdhq/repostd/internal/platform"
	"github.com/repostdhq/repostd/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]store.Account
	channels map[string][]store.SourceChannel
}

func newFakeStore(accounts ...store.Account) *fakeStore {
	fs := &fakeStore{
		accounts: map[string]store.Account{},
		channels: map[string][]store.SourceChannel{},
	}
	for _, a := range accounts {
		fs.accounts[a.ID] = a
	}
	return fs
}

func (f *fakeStore) GetAccount(_ context.Context, id string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) UpdateAuthState(_ context.Context, id string, state store.AuthState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[id]
	a.AuthState = state
	f.accounts[id] = a
	return nil
}

func (f *fakeStore) ClearSessionArtifact(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[id]
	a.SessionName = ""
	a.AuthState = store.AuthStateCredentialsStored
	f.accounts[id] = a
	return nil
}

func (f *fakeStore) ListAccountsWithCredentials(context.Context) ([]store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Account
	for _, a := range f.accounts {
		if a.HasCredentials() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSourceChannels(_ context.Context, accountID string) ([]store.SourceChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[accountID], nil
}

func (f *fakeStore) authState(id string) store.AuthState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id].AuthState
}

type scriptedSession struct {
	authorized bool
	signInErr  error

	mu           sync.Mutex
	codeSent     bool
	signedInWith string
	subscribed   []int64
	disconnected bool
	nextToken    platform.HandlerToken
}

func (s *scriptedSession) IsAuthorized(context.Context) (bool, error) { return s.authorized, nil }

func (s *scriptedSession) RequestCode(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeSent = true
	return nil
}

func (s *scriptedSession) SignIn(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signInErr != nil {
		return s.signInErr
	}
	s.signedInWith = code
	s.authorized = true
	return nil
}

func (s *scriptedSession) Subscribe(chatID int64, _ platform.Handler) (platform.HandlerToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, chatID)
	s.nextToken++
	return s.nextToken, nil
}

func (s *scriptedSession) Unsubscribe(platform.HandlerToken) error { return nil }

func (s *scriptedSession) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*scriptedSession
	err      error
	dials    int
}

func (d *fakeDialer) Dial(context.Context, platform.Credentials, string) (platform.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.dials >= len(d.sessions) {
		return nil, errors.New("no more scripted sessions")
	}
	sess := d.sessions[d.dials]
	d.dials++
	return sess, nil
}

type recordingListeners struct {
	mu       sync.Mutex
	attached []int64
	detached int
}

func (l *recordingListeners) Attach(chatID int64, _ platform.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attached = append(l.attached, chatID)
	return nil
}

func (l *recordingListeners) DetachSession(platform.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detached++
}

func testAccount() store.Account {
	return store.Account{
		ID:             "acc-1",
		ExternalUserID: 100,
		APIID:          12345,
		APIHash:        "hash",
		Phone:          "+15550001",
		SessionName:    "acc_100",
		AuthState:      store.AuthStateCredentialsStored,
	}
}

func TestStartSessionWithoutCredentials(t *testing.T) {
	t.Parallel()

	st := newFakeStore(store.Account{ID: "acc-1", ExternalUserID: 100})
	m := NewManager(nil, st, &fakeDialer{}, &recordingListeners{}, t.TempDir())

	_, err := m.StartSession(context.Background(), "acc-1", "")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "credentials not configured", authErr.Reason)
}

func TestStartSessionUnknownAccount(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, newFakeStore(), &fakeDialer{}, &recordingListeners{}, t.TempDir())
	_, err := m.StartSession(context.Background(), "nope", "")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestStartSessionRequestsCode(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testAccount())
	sess := &scriptedSession{}
	m := NewManager(nil, st, &fakeDialer{sessions: []*scriptedSession{sess}}, &recordingListeners{}, t.TempDir())

	status, err := m.StartSession(context.Background(), "acc-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingCode, status)
	assert.True(t, sess.codeSent)
	assert.Equal(t, store.AuthStateAwaitingCode, st.authState("acc-1"))

	_, live := m.Session("acc-1")
	assert.False(t, live)
}

func TestStartSessionCompletesWithCode(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testAccount())
	st.channels["acc-1"] = []store.SourceChannel{{ChatID: -100}, {ChatID: -200}}
	sess := &scriptedSession{}
	listeners := &recordingListeners{}
	m := NewManager(nil, st, &fakeDialer{sessions: []*scriptedSession{sess}}, listeners, t.TempDir())

	status, err := m.StartSession(context.Background(), "acc-1", "")
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingCode, status)

	status, err = m.StartSession(context.Background(), "acc-1", "54321")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, "54321", sess.signedInWith)
	assert.Equal(t, store.AuthStateAuthorized, st.authState("acc-1"))
	assert.ElementsMatch(t, []int64{-100, -200}, listeners.attached)

	got, live := m.Session("acc-1")
	assert.True(t, live)
	assert.Same(t, sess, got.(*scriptedSession))
}

func TestStartSessionInvalidCode(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testAccount())
	sess := &scriptedSession{signInErr: platform.ErrCodeExpired}
	m := NewManager(nil, st, &fakeDialer{sessions: []*scriptedSession{sess}}, &recordingListeners{}, t.TempDir())

	_, err := m.StartSession(context.Background(), "acc-1", "")
	require.NoError(t, err)

	_, err = m.StartSession(context.Background(), "acc-1", "00000")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "code expired or invalid", authErr.Reason)
	assert.True(t, sess.disconnected)
	assert.Equal(t, store.AuthStateCredentialsStored, st.authState("acc-1"))

	// The parked connection is consumed; a retry needs a fresh code.
	_, err = m.StartSession(context.Background(), "acc-1", "00000")
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "no pending sign-in, request a code first", authErr.Reason)
}

func TestStartSessionTwoFactorUnsupported(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testAccount())
	sess := &scriptedSession{signInErr: platform.ErrPasswordNeeded}
	m := NewManager(nil, st, &fakeDialer{sessions: []*scriptedSession{sess}}, &recordingListeners{}, t.TempDir())

	_, err := m.StartSession(context.Background(), "acc-1", "")
	require.NoError(t, err)

	_, err = m.StartSession(context.Background(), "acc-1", "54321")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "two-factor")
	assert.True(t, sess.disconnected)
}

func TestStartSessionIdempotentWhenLive(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testAccount())
	st.channels["acc-1"] = []store.SourceChannel{{ChatID: -100}}
	sess := &scriptedSession{authorized: true}
	dialer := &fakeDialer{sessions: []*scriptedSession{sess}}
	listeners := &recordingListeners{}
	m := NewManager(nil, st, dialer, listeners, t.TempDir())

	status, err := m.StartSession(context.Background(), "acc-1", "")
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	status, err = m.StartSession(context.Background(), "acc-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, 1, dialer.dials)
}

func TestStopSessionIdempotent(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testAccount())
	sess := &scriptedSession{authorized: true}
	m := NewManager(nil, st, &fakeDialer{sessions: []*scriptedSession{sess}}, &recordingListeners{}, t.TempDir())

	_, err := m.StartSession(context.Background(), "acc-1", "")
	require.NoError(t, err)

	m.StopSession(context.Background(), "acc-1")
	assert.True(t, sess.disconnected)
	_, live := m.Session("acc-1")
	assert.False(t, live)

	m.StopSession(context.Background(), "acc-1")
}

func TestRecoverAllMissingArtifact(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testAccount())
	dialer := &fakeDialer{}
	m := NewManager(nil, st, dialer, &recordingListeners{}, t.TempDir())

	require.NoError(t, m.RecoverAll(context.Background()))
	assert.Equal(t, 0, dialer.dials)

	account, err := st.GetAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Empty(t, account.SessionName)
	assert.Equal(t, store.AuthStateCredentialsStored, account.AuthState)
	assert.True(t, account.HasCredentials())
}

func TestRecoverAllInvalidArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acc_100.session"), []byte("x"), 0o600))

	st := newFakeStore(testAccount())
	sess := &scriptedSession{authorized: false}
	m := NewManager(nil, st, &fakeDialer{sessions: []*scriptedSession{sess}}, &recordingListeners{}, dir)

	require.NoError(t, m.RecoverAll(context.Background()))
	assert.True(t, sess.disconnected)

	account, err := st.GetAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Empty(t, account.SessionName)
}

func TestRecoverAllResumesAuthorized(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acc_100.session"), []byte("x"), 0o600))

	st := newFakeStore(testAccount())
	st.channels["acc-1"] = []store.SourceChannel{{ChatID: -100}}
	sess := &scriptedSession{authorized: true}
	listeners := &recordingListeners{}
	m := NewManager(nil, st, &fakeDialer{sessions: []*scriptedSession{sess}}, listeners, dir)

	require.NoError(t, m.RecoverAll(context.Background()))
	assert.Equal(t, store.AuthStateAuthorized, st.authState("acc-1"))
	assert.Equal(t, []int64{-100}, listeners.attached)

	_, live := m.Session("acc-1")
	assert.True(t, live)

	statuses := m.Statuses()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Live)
	assert.False(t, statuses[0].Pending)
}
