package services

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/idkeeper/internal/client/client"
	"github.com/dmitrijs2005/idkeeper/internal/client/repositories/metadata"
	api "github.com/dmitrijs2005/idkeeper/internal/server/grpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := client.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func getMeta(t *testing.T, db *sql.DB, k string) string {
	t.Helper()
	v, err := metadata.NewSQLiteRepository(db).Get(context.Background(), k)
	require.NoError(t, err)
	return string(v)
}

type fakeClient struct {
	tokens client.Tokens

	loginResp *api.LoginResponse
	loginErr  error
	lastLogin struct{ email, password, code string }

	registerID       string
	registerErr      error
	registerPassword string

	pingErr  error
	closeErr error
	closed   bool
}

func (f *fakeClient) Register(_ context.Context, email, password, fullName string) (string, error) {
	f.registerPassword = password
	return f.registerID, f.registerErr
}

func (f *fakeClient) Login(_ context.Context, email, password, code string) (*api.LoginResponse, error) {
	f.lastLogin.email, f.lastLogin.password, f.lastLogin.code = email, password, code
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if !f.loginResp.MFARequired {
		f.tokens = client.Tokens{AccessToken: f.loginResp.AccessToken, RefreshToken: f.loginResp.RefreshToken}
	}
	return f.loginResp, nil
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }
func (f *fakeClient) Tokens() client.Tokens      { return f.tokens }
func (f *fakeClient) SetTokens(t client.Tokens)  { f.tokens = t }
func (f *fakeClient) Close() error               { f.closed = true; return f.closeErr }

func TestLogin_SavesSession(t *testing.T) {
	db := setupDB(t)
	fc := &fakeClient{loginResp: &api.LoginResponse{UserID: "u1", AccessToken: "acc", RefreshToken: "ref"}}
	svc := NewSessionService(fc, db)

	pw := []byte("Str0ng!Passw0rd123")
	s, err := svc.Login(context.Background(), "alice@example.com", pw, "")
	require.NoError(t, err)
	assert.Equal(t, &Session{Email: "alice@example.com", UserID: "u1"}, s)
	assert.Equal(t, "Str0ng!Passw0rd123", fc.lastLogin.password)
	assert.Equal(t, make([]byte, len(pw)), pw, "password buffer must be wiped")

	assert.Equal(t, "alice@example.com", getMeta(t, db, metadata.KeyEmail))
	assert.Equal(t, "u1", getMeta(t, db, metadata.KeyUserID))
	assert.Equal(t, "acc", getMeta(t, db, metadata.KeyAccessToken))
	assert.Equal(t, "ref", getMeta(t, db, metadata.KeyRefreshToken))
}

func TestLogin_MFARequired(t *testing.T) {
	db := setupDB(t)
	fc := &fakeClient{loginResp: &api.LoginResponse{MFARequired: true}}
	svc := NewSessionService(fc, db)

	_, err := svc.Login(context.Background(), "alice@example.com", []byte("pw"), "")
	require.ErrorIs(t, err, ErrMFARequired)
	assert.Empty(t, getMeta(t, db, metadata.KeyRefreshToken))
}

func TestLogin_ErrorIsWrapped(t *testing.T) {
	db := setupDB(t)
	fc := &fakeClient{loginErr: client.ErrUnauthorized}
	svc := NewSessionService(fc, db)

	_, err := svc.Login(context.Background(), "alice@example.com", []byte("pw"), "123456")
	require.ErrorIs(t, err, client.ErrUnauthorized)
	assert.Equal(t, "123456", fc.lastLogin.code)
}

func TestRestore(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	fc := &fakeClient{}
	svc := NewSessionService(fc, db)

	s, err := svc.Restore(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, metadata.SetAll(ctx, db, map[string][]byte{
		metadata.KeyEmail:        []byte("alice@example.com"),
		metadata.KeyUserID:       []byte("u1"),
		metadata.KeyAccessToken:  []byte("acc"),
		metadata.KeyRefreshToken: []byte("ref"),
	}))

	s, err = svc.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Session{Email: "alice@example.com", UserID: "u1"}, s)
	assert.Equal(t, client.Tokens{AccessToken: "acc", RefreshToken: "ref"}, fc.tokens)
}

func TestCloseSavesRefreshedAccessToken(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	fc := &fakeClient{loginResp: &api.LoginResponse{UserID: "u1", AccessToken: "acc", RefreshToken: "ref"}}
	svc := NewSessionService(fc, db)

	_, err := svc.Login(ctx, "alice@example.com", []byte("pw"), "")
	require.NoError(t, err)

	fc.tokens.AccessToken = "refreshed"
	require.NoError(t, svc.Close(ctx))
	assert.True(t, fc.closed)
	assert.Equal(t, "refreshed", getMeta(t, db, metadata.KeyAccessToken))
}

func TestCloseReportsClientError(t *testing.T) {
	db := setupDB(t)
	fc := &fakeClient{closeErr: errors.New("boom")}
	svc := NewSessionService(fc, db)

	require.Error(t, svc.Close(context.Background()))
}

func TestLogoutClearsSession(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	fc := &fakeClient{loginResp: &api.LoginResponse{UserID: "u1", AccessToken: "acc", RefreshToken: "ref"}}
	svc := NewSessionService(fc, db)

	_, err := svc.Login(ctx, "alice@example.com", []byte("pw"), "")
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx))

	assert.Equal(t, client.Tokens{}, fc.tokens)
	s, err := svc.Restore(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestRegisterWipesPassword(t *testing.T) {
	db := setupDB(t)
	fc := &fakeClient{registerID: "u9"}
	svc := NewSessionService(fc, db)

	pw := []byte("Str0ng!Passw0rd123")
	id, err := svc.Register(context.Background(), "bob@example.com", pw, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "u9", id)
	assert.Equal(t, "Str0ng!Passw0rd123", fc.registerPassword)
	assert.Equal(t, make([]byte, len(pw)), pw)
}

func TestPing(t *testing.T) {
	fc := &fakeClient{pingErr: client.ErrUnavailable}
	svc := NewSessionService(fc, setupDB(t))
	require.ErrorIs(t, svc.Ping(context.Background()), client.ErrUnavailable)
}
