// Package services contains application services for the idkeeper CLI.
// The session service logs in against the server and keeps the issued
// tokens in the local metadata store so a later run can resume.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/idkeeper/internal/client/client"
	"github.com/dmitrijs2005/idkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/idkeeper/internal/common"
	api "github.com/dmitrijs2005/idkeeper/internal/server/grpc"
)

// ErrMFARequired is returned by Login when the account needs a second factor.
var ErrMFARequired = errors.New("mfa code required")

// Client is the part of client.GRPCClient the session service needs.
type Client interface {
	Register(ctx context.Context, email, password, fullName string) (string, error)
	Login(ctx context.Context, email, password, mfaCode string) (*api.LoginResponse, error)
	Ping(ctx context.Context) error
	Tokens() client.Tokens
	SetTokens(client.Tokens)
	Close() error
}

// Session is what the CLI remembers between runs.
type Session struct {
	Email  string
	UserID string
}

type SessionService struct {
	client Client
	db     *sql.DB
}

func NewSessionService(c Client, db *sql.DB) *SessionService {
	return &SessionService{client: c, db: db}
}

func (a *SessionService) repo() metadata.Repository {
	return metadata.NewSQLiteRepository(a.db)
}

// Register creates an account. The password buffer is wiped afterwards.
func (a *SessionService) Register(ctx context.Context, email string, password []byte, fullName string) (string, error) {
	defer common.WipeByteArray(password)
	return a.client.Register(ctx, email, string(password), fullName)
}

// Login authenticates and saves the session. An empty mfaCode on an
// MFA-enabled account yields ErrMFARequired.
func (a *SessionService) Login(ctx context.Context, email string, password []byte, mfaCode string) (*Session, error) {
	defer common.WipeByteArray(password)

	resp, err := a.client.Login(ctx, email, string(password), mfaCode)
	if err != nil {
		return nil, fmt.Errorf("login error: %w", err)
	}
	if resp.MFARequired {
		return nil, ErrMFARequired
	}

	s := &Session{Email: email, UserID: resp.UserID}
	tokens := a.client.Tokens()
	if err := metadata.SetAll(ctx, a.db, map[string][]byte{
		metadata.KeyEmail:        []byte(s.Email),
		metadata.KeyUserID:       []byte(s.UserID),
		metadata.KeyAccessToken:  []byte(tokens.AccessToken),
		metadata.KeyRefreshToken: []byte(tokens.RefreshToken),
	}); err != nil {
		return nil, fmt.Errorf("session saving error: %w", err)
	}
	return s, nil
}

// Restore loads a saved session into the client. It returns (nil, nil)
// when nothing was saved.
func (a *SessionService) Restore(ctx context.Context) (*Session, error) {
	saved, err := a.repo().GetMany(ctx, metadata.SessionKeys...)
	if err != nil {
		return nil, err
	}
	if len(saved[metadata.KeyRefreshToken]) == 0 {
		return nil, nil
	}

	a.client.SetTokens(client.Tokens{
		AccessToken:  string(saved[metadata.KeyAccessToken]),
		RefreshToken: string(saved[metadata.KeyRefreshToken]),
	})
	return &Session{Email: string(saved[metadata.KeyEmail]), UserID: string(saved[metadata.KeyUserID])}, nil
}

// Save stores the client's current access token, which may have been
// refreshed since login.
func (a *SessionService) Save(ctx context.Context) error {
	tokens := a.client.Tokens()
	if tokens.RefreshToken == "" {
		return nil
	}
	return a.repo().Set(ctx, metadata.KeyAccessToken, []byte(tokens.AccessToken))
}

// Logout forgets the session locally. Tokens are not revoked server side;
// they expire on their own.
func (a *SessionService) Logout(ctx context.Context) error {
	a.client.SetTokens(client.Tokens{})
	return a.repo().Clear(ctx)
}

func (a *SessionService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// Close saves the session and releases the client connection.
func (a *SessionService) Close(ctx context.Context) error {
	return errors.Join(a.Save(ctx), a.client.Close())
}
