package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/cryptox"
	"github.com/dmitrijs2005/idkeeper/internal/dbx"
	"github.com/dmitrijs2005/idkeeper/internal/server/audit"
	"github.com/dmitrijs2005/idkeeper/internal/server/auth"
	"github.com/dmitrijs2005/idkeeper/internal/server/mfa"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/password"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "Str0ng!Passw0rd123"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testOrigin = models.Origin{IPAddress: "192.0.2.10", UserAgent: "test-agent"}
)

type fixture struct {
	m      *repomanager.MemoryRepositoryManager
	auth   *AuthService
	data   *DataProtectionService
	mfa    *mfa.Manager
	tokens *auth.TokenService
	sealer *cryptox.Sealer
	audit  *audit.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, repomanager.NewMemoryRepositoryManager(), nil)
}

// newFixtureWith lets a test substitute the manager handed to the services
// while keeping the memory repositories reachable through m.
func newFixtureWith(t *testing.T, m *repomanager.MemoryRepositoryManager, override repomanager.RepositoryManager) *fixture {
	t.Helper()

	sealer, err := cryptox.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	now := func() time.Time { return testNow }
	totp := mfa.NewManager(mfa.Options{Skew: 1, Now: now})
	tokens, err := auth.NewTokenService(auth.Options{Secret: []byte("test-secret"), Now: now}, nil)
	require.NoError(t, err)
	log := audit.NewLog(m.AuditRepo, nil)

	var rm repomanager.RepositoryManager = m
	if override != nil {
		rm = override
	}

	opts := password.DefaultOptions()
	opts.BcryptCost = bcrypt.MinCost

	a := NewAuthService(nil, rm, AuthDeps{
		Policy: password.NewPolicy(opts),
		MFA:    totp,
		Tokens: tokens,
		Audit:  log,
		Sealer: sealer,
	}, DefaultAuthOptions())
	a.now = now

	d := NewDataProtectionService(nil, rm, DataProtectionDeps{Audit: log, Sealer: sealer}, DataProtectionOptions{
		PseudonymKey: []byte("pseudonym-key"),
	})
	d.now = now

	return &fixture{m: m, auth: a, data: d, mfa: totp, tokens: tokens, sealer: sealer, audit: log}
}

func (f *fixture) registerAlice(t *testing.T) *models.User {
	t.Helper()
	u, err := f.auth.Register(context.Background(), aliceEmail, alicePassword, "Alice", testOrigin)
	require.NoError(t, err)
	return u
}

func (f *fixture) eventsFor(userID string) []models.AuditEvent {
	var out []models.AuditEvent
	for _, ev := range f.m.AuditRepo.All() {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out
}

// conflictingUsers fails every Update with a version conflict.
type conflictingUsers struct {
	users.Repository
	updates int
}

func (c *conflictingUsers) Update(context.Context, *models.User) (*models.User, error) {
	c.updates++
	return nil, common.ErrVersionConflict
}

type conflictingManager struct {
	*repomanager.MemoryRepositoryManager
	users *conflictingUsers
}

func (c *conflictingManager) Users(dbx.DBTX) users.Repository { return c.users }
