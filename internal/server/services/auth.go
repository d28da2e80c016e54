// Package services contains the server's business logic: authentication
// (AuthService), data protection (DataProtectionService) and the privacy
// façade that issues job ids (PrivacyControls).
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/cryptox"
	"github.com/dmitrijs2005/idkeeper/internal/dbx"
	"github.com/dmitrijs2005/idkeeper/internal/logging"
	"github.com/dmitrijs2005/idkeeper/internal/server/audit"
	"github.com/dmitrijs2005/idkeeper/internal/server/auth"
	"github.com/dmitrijs2005/idkeeper/internal/server/mfa"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/password"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// AuthOptions holds the account-protection knobs.
type AuthOptions struct {
	// LockoutThreshold is the number of consecutive password failures that
	// locks an account.
	LockoutThreshold int
	// MaxUpdateRetries bounds optimistic read-modify-write retries.
	MaxUpdateRetries int
	DefaultRoles     []string
}

func DefaultAuthOptions() AuthOptions {
	return AuthOptions{
		LockoutThreshold: 5,
		MaxUpdateRetries: 5,
		DefaultRoles:     []string{models.RoleUser},
	}
}

// AuthDeps are the collaborators of AuthService.
type AuthDeps struct {
	Policy *password.Policy
	MFA    *mfa.Manager
	Tokens *auth.TokenService
	Audit  *audit.Log
	Sealer *cryptox.Sealer
	Logger logging.Logger
	Tracer trace.Tracer
}

// LoginResult is the outcome of a login that did not fail. Either
// MFARequired is set, or User and Tokens are.
type LoginResult struct {
	User        *models.User
	Tokens      *auth.TokenPair
	MFARequired bool
}

// MFASetup is returned by SetupMFA for client-side QR rendering.
type MFASetup struct {
	Secret          string
	ProvisioningURI string
}

// AuthService registers users, authenticates them and manages their
// credentials.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	policy      *password.Policy
	mfa         *mfa.Manager
	tokens      *auth.TokenService
	audit       *audit.Log
	sealer      *cryptox.Sealer
	opts        AuthOptions
	log         logging.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// errNoChange aborts a user mutation without writing.
var errNoChange = errors.New("no change")

// NewAuthService wires an AuthService. db may be nil when m does not need
// a database.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, d AuthDeps, opts AuthOptions) *AuthService {
	if opts.LockoutThreshold <= 0 {
		opts.LockoutThreshold = 5
	}
	if opts.MaxUpdateRetries <= 0 {
		opts.MaxUpdateRetries = 5
	}
	if len(opts.DefaultRoles) == 0 {
		opts.DefaultRoles = []string{models.RoleUser}
	}
	if d.Logger == nil {
		d.Logger = logging.Nop{}
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &AuthService{
		db:          db,
		repomanager: m,
		policy:      d.Policy,
		mfa:         d.MFA,
		tokens:      d.Tokens,
		audit:       d.Audit,
		sealer:      d.Sealer,
		opts:        opts,
		log:         d.Logger.With("module", "auth"),
		tracer:      d.Tracer,
		now:         time.Now,
	}
}

// Register creates an account with MFA prepared but not enabled. Nothing
// is persisted unless every check passes.
func (s *AuthService) Register(ctx context.Context, email, pw, fullName string, origin models.Origin) (*models.User, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer span.End()

	email = models.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		s.audit.Record(ctx, models.AuditRegistration, common.AnonymousActor, "rejected", origin, "invalid email")
		return nil, common.NewValidationError("email is not a valid address")
	}
	if violations := s.policy.Validate(pw); len(violations) > 0 {
		s.audit.Record(ctx, models.AuditRegistration, common.AnonymousActor, "rejected", origin, "weak password")
		return nil, common.NewValidationError(violations...)
	}

	hash, err := s.policy.Hash(pw)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	secret, err := s.mfa.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	sealed, err := s.sealer.Seal([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("register: seal mfa secret: %w", err)
	}

	now := s.now().UTC()
	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		Email:             email,
		FullName:          fullName,
		PasswordHash:      hash,
		MFASecret:         sealed,
		Roles:             s.opts.DefaultRoles,
		PasswordChangedAt: now,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			s.audit.Record(ctx, models.AuditRegistration, common.AnonymousActor, "rejected", origin, "email taken")
			return nil, common.ErrEmailTaken
		}
		span.SetStatus(codes.Error, "store")
		s.log.Error(ctx, "register failed", "error", err)
		return nil, common.NewStoreError("register", err)
	}

	s.audit.Record(ctx, models.AuditRegistration, u.ID, "registered", origin, "")
	s.log.Info(ctx, "user registered", "user_id", u.ID)
	return u, nil
}

// Login authenticates with password and, when enabled, a TOTP code.
func (s *AuthService) Login(ctx context.Context, email, pw, mfaCode string, origin models.Origin) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	email = models.NormalizeEmail(email)
	u, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.policy.BurnVerify(pw)
			s.log.Info(ctx, "login rejected", "reason", "unknown email")
			s.audit.Record(ctx, models.AuditLogin, common.AnonymousActor, "failed", origin, "unknown email "+email)
			return nil, common.ErrInvalidCredentials
		}
		span.SetStatus(codes.Error, "store")
		return nil, common.NewStoreError("login lookup", err)
	}

	if u.Locked {
		s.log.Info(ctx, "login rejected", "reason", "locked", "user_id", u.ID)
		s.audit.Record(ctx, models.AuditLogin, u.ID, "rejected_locked", origin, "account is locked")
		return nil, common.ErrAccountLocked
	}

	if !s.policy.Verify(pw, u.PasswordHash) {
		return nil, s.passwordFailed(ctx, u.ID, origin)
	}

	if u.MFAEnabled {
		if mfaCode == "" {
			s.audit.Record(ctx, models.AuditLogin, u.ID, "mfa_required", origin, "")
			return &LoginResult{MFARequired: true}, nil
		}
		ok, err := s.checkMFA(u, mfaCode)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.log.Info(ctx, "login rejected", "reason", "wrong mfa code", "user_id", u.ID)
			s.audit.Record(ctx, models.AuditMFA, u.ID, "failed", origin, "wrong mfa code at login")
			return nil, common.ErrInvalidMFACode
		}
	}

	now := s.now().UTC()
	updated, err := s.mutateUser(ctx, u.ID, func(u *models.User) error {
		if u.Locked {
			return common.ErrAccountLocked
		}
		u.FailedAttempts = 0
		u.LastLogin = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrAccountLocked) {
			s.audit.Record(ctx, models.AuditLogin, u.ID, "rejected_locked", origin, "locked during login")
			return nil, err
		}
		span.SetStatus(codes.Error, "store")
		return nil, common.NewStoreError("login update", err)
	}
	u = updated

	pair, err := s.tokens.IssuePair(u.ID, u.Email, u.Roles)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	s.audit.Record(ctx, models.AuditLogin, u.ID, "success", origin, "")
	return &LoginResult{User: u, Tokens: pair}, nil
}

// passwordFailed increments the failure counter, locking the account when
// the threshold is reached. Losing every optimistic retry is treated as
// locked.
func (s *AuthService) passwordFailed(ctx context.Context, userID string, origin models.Origin) error {
	locked := false
	_, err := s.mutateUser(ctx, userID, func(u *models.User) error {
		if u.Locked {
			locked = true
			return errNoChange
		}
		u.FailedAttempts++
		if u.FailedAttempts >= s.opts.LockoutThreshold {
			u.Locked = true
		}
		locked = u.Locked
		return nil
	})

	switch {
	case errors.Is(err, dbx.ErrRetriesExhausted):
		s.log.Warn(ctx, "failure counter contention, failing safe", "user_id", userID)
		s.audit.Record(ctx, models.AuditLogin, userID, "failed", origin, "wrong password; counter update contended")
		return common.ErrAccountLocked
	case err != nil:
		s.log.Error(ctx, "failure counter update failed", "user_id", userID, "error", err)
		return common.NewStoreError("record login failure", err)
	}

	s.log.Info(ctx, "login rejected", "reason", "wrong password", "user_id", userID, "locked", locked)
	if locked {
		s.audit.Record(ctx, models.AuditLogin, userID, "locked", origin, "wrong password; lockout threshold reached")
		return common.ErrAccountLocked
	}
	s.audit.Record(ctx, models.AuditLogin, userID, "failed", origin, "wrong password")
	return common.ErrInvalidCredentials
}

// RefreshAccess exchanges a refresh token for a new access token.
func (s *AuthService) RefreshAccess(ctx context.Context, refreshToken string) (string, int64, error) {
	_, span := s.tracer.Start(ctx, "auth.RefreshAccess")
	defer span.End()
	return s.tokens.RefreshAccess(refreshToken)
}

// VerifyPassword re-checks the password of an authenticated user.
func (s *AuthService) VerifyPassword(ctx context.Context, userID, pw string) error {
	u, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.policy.BurnVerify(pw)
			return common.ErrInvalidCredentials
		}
		return common.NewStoreError("verify password", err)
	}
	if !s.policy.Verify(pw, u.PasswordHash) {
		return common.ErrInvalidCredentials
	}
	return nil
}

// ChangePassword requires the current password even for a holder of a
// valid access token.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string, origin models.Origin) error {
	ctx, span := s.tracer.Start(ctx, "auth.ChangePassword")
	defer span.End()

	if err := s.VerifyPassword(ctx, userID, current); err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			s.audit.Record(ctx, models.AuditPassword, userID, "change_rejected", origin, "current password mismatch")
		}
		return err
	}
	if violations := s.policy.Validate(next); len(violations) > 0 {
		s.audit.Record(ctx, models.AuditPassword, userID, "change_rejected", origin, "weak password")
		return common.NewValidationError(violations...)
	}

	hash, err := s.policy.Hash(next)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	now := s.now().UTC()
	_, err = s.mutateUser(ctx, userID, func(u *models.User) error {
		if s.policy.Verify(next, u.PasswordHash) {
			return common.NewValidationError("must differ from the current password")
		}
		u.PasswordHash = hash
		u.PasswordChangedAt = now
		return nil
	})
	if err != nil {
		var verr *common.ValidationError
		if errors.As(err, &verr) {
			s.audit.Record(ctx, models.AuditPassword, userID, "change_rejected", origin, "password reuse")
			return err
		}
		return common.NewStoreError("change password", err)
	}

	s.audit.Record(ctx, models.AuditPassword, userID, "changed", origin, "")
	return nil
}

// SetupMFA returns the user's pending TOTP secret, generating one if the
// account has none. MFA stays disabled until EnableMFA confirms a code.
func (s *AuthService) SetupMFA(ctx context.Context, userID string, origin models.Origin) (*MFASetup, error) {
	var secret, email string
	_, err := s.mutateUser(ctx, userID, func(u *models.User) error {
		if u.MFAEnabled {
			return common.ErrMFAAlreadyEnabled
		}
		email = u.Email
		if len(u.MFASecret) > 0 {
			plain, err := s.sealer.Open(u.MFASecret)
			if err == nil {
				secret = string(plain)
				return errNoChange
			}
			s.log.Warn(ctx, "stored mfa secret unreadable, regenerating", "user_id", u.ID)
		}
		fresh, err := s.mfa.GenerateSecret()
		if err != nil {
			return err
		}
		sealed, err := s.sealer.Seal([]byte(fresh))
		if err != nil {
			return err
		}
		secret = fresh
		u.MFASecret = sealed
		return nil
	})
	if err != nil {
		return nil, s.mapUserErr(ctx, "setup mfa", err)
	}

	s.audit.Record(ctx, models.AuditMFA, userID, "setup", origin, "")
	return &MFASetup{Secret: secret, ProvisioningURI: s.mfa.ProvisioningURI(email, secret)}, nil
}

// EnableMFA turns MFA on after the user proves possession of the secret.
func (s *AuthService) EnableMFA(ctx context.Context, userID, code string, origin models.Origin) error {
	_, err := s.mutateUser(ctx, userID, func(u *models.User) error {
		if u.MFAEnabled {
			return common.ErrMFAAlreadyEnabled
		}
		if len(u.MFASecret) == 0 {
			return common.ErrMFANotConfigured
		}
		ok, err := s.checkMFA(u, code)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrInvalidMFACode
		}
		u.MFAEnabled = true
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidMFACode) {
			s.audit.Record(ctx, models.AuditMFA, userID, "enable_rejected", origin, "wrong mfa code")
		}
		return s.mapUserErr(ctx, "enable mfa", err)
	}

	s.audit.Record(ctx, models.AuditMFA, userID, "enabled", origin, "")
	return nil
}

// DisableMFA requires the current password and clears the secret.
func (s *AuthService) DisableMFA(ctx context.Context, userID, pw string, origin models.Origin) error {
	if err := s.VerifyPassword(ctx, userID, pw); err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			s.audit.Record(ctx, models.AuditMFA, userID, "disable_rejected", origin, "password mismatch")
		}
		return err
	}

	_, err := s.mutateUser(ctx, userID, func(u *models.User) error {
		if !u.MFAEnabled {
			return common.ErrMFANotConfigured
		}
		u.MFAEnabled = false
		u.MFASecret = nil
		return nil
	})
	if err != nil {
		return s.mapUserErr(ctx, "disable mfa", err)
	}

	s.audit.Record(ctx, models.AuditMFA, userID, "disabled", origin, "")
	return nil
}

// UnlockAccount clears the lock and the failure counter. actorID is the
// administrator performing the recovery.
func (s *AuthService) UnlockAccount(ctx context.Context, actorID, userID string, origin models.Origin) error {
	if _, err := uuid.Parse(userID); err != nil {
		return common.NewValidationError("user_id must be a UUID")
	}
	_, err := s.mutateUser(ctx, userID, func(u *models.User) error {
		if !u.Locked && u.FailedAttempts == 0 {
			return errNoChange
		}
		u.Locked = false
		u.FailedAttempts = 0
		return nil
	})
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrUserNotFound
	}
	if err != nil {
		return s.mapUserErr(ctx, "unlock account", err)
	}

	s.audit.Record(ctx, models.AuditAccount, userID, "unlocked", origin, "by "+actorID)
	return nil
}

// GetUser returns the stored account.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, s.mapUserErr(ctx, "get user", err)
	}
	return u, nil
}

func (s *AuthService) checkMFA(u *models.User, code string) (bool, error) {
	plain, err := s.sealer.Open(u.MFASecret)
	if err != nil {
		return false, fmt.Errorf("open mfa secret: %w", err)
	}
	defer common.WipeByteArray(plain)
	return s.mfa.VerifyCode(string(plain), code, -1), nil
}

// mutateUser runs a read-modify-write on one user under optimistic
// concurrency. fn may return errNoChange to skip the write.
func (s *AuthService) mutateUser(ctx context.Context, userID string, fn func(u *models.User) error) (*models.User, error) {
	var out *models.User
	err := dbx.RetryOnConflict(ctx, s.opts.MaxUpdateRetries, common.ErrVersionConflict, func(ctx context.Context) error {
		repo := s.repomanager.Users(s.db)
		u, err := repo.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			if errors.Is(err, errNoChange) {
				out = u
				return nil
			}
			return err
		}
		out, err = repo.Update(ctx, u)
		return err
	})
	return out, err
}

// mapUserErr passes typed outcomes through and wraps everything else as a
// store error.
func (s *AuthService) mapUserErr(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return common.ErrInvalidCredentials
	case errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrAuthentication),
		errors.Is(err, common.ErrPolicyViolation):
		return err
	}
	s.log.Error(ctx, op+" failed", "error", err)
	return common.NewStoreError(op, err)
}
