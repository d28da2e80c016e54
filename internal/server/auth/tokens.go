// Package auth issues and verifies the signed session tokens (HS256 JWTs).
// Tokens are stateless: they expire by claim and are never stored.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType separates access tokens from refresh tokens. The type is a
// signed claim; a caller's own statement of type is never trusted.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Claims carried by both token types.
type Claims struct {
	UserID string    `json:"user_id"`
	Email  string    `json:"email"`
	Roles  []string  `json:"roles"`
	Type   TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}

type Options struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Now        func() time.Time
}

type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
	log        logging.Logger
}

func NewTokenService(o Options, log logging.Logger) (*TokenService, error) {
	if len(o.Secret) == 0 {
		return nil, errors.New("token signing secret is empty")
	}
	if o.AccessTTL <= 0 {
		o.AccessTTL = time.Hour
	}
	if o.RefreshTTL <= 0 {
		o.RefreshTTL = 30 * 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &TokenService{
		secret:     slices.Clone(o.Secret),
		accessTTL:  o.AccessTTL,
		refreshTTL: o.RefreshTTL,
		issuer:     o.Issuer,
		now:        o.Now,
		log:        log.With("module", "tokens"),
	}, nil
}

// IssuePair signs an access and a refresh token for the user.
func (s *TokenService) IssuePair(userID, email string, roles []string) (*TokenPair, error) {
	access, err := s.sign(userID, email, roles, TypeAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(userID, email, roles, TypeRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.accessTTL / time.Second)}, nil
}

// Verify checks signature, expiry and claim shape. Every failure is
// reported as common.ErrInvalidToken; the reason is logged.
func (s *TokenService) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		s.log.Debug(context.Background(), "token rejected", "reason", rejectReason(err))
		return nil, common.ErrInvalidToken
	}
	if claims.UserID == "" || (claims.Type != TypeAccess && claims.Type != TypeRefresh) {
		s.log.Debug(context.Background(), "token rejected", "reason", "malformed claims")
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// VerifyAccess is Verify restricted to access tokens.
func (s *TokenService) VerifyAccess(token string) (*Claims, error) {
	return s.verifyType(token, TypeAccess)
}

// RefreshAccess mints a new access token from a refresh token. The roles
// are copied from the refresh token, not re-read from the store.
func (s *TokenService) RefreshAccess(refreshToken string) (string, int64, error) {
	claims, err := s.verifyType(refreshToken, TypeRefresh)
	if err != nil {
		return "", 0, err
	}
	access, err := s.sign(claims.UserID, claims.Email, claims.Roles, TypeAccess, s.accessTTL)
	if err != nil {
		return "", 0, err
	}
	return access, int64(s.accessTTL / time.Second), nil
}

func (s *TokenService) verifyType(token string, want TokenType) (*Claims, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		s.log.Debug(context.Background(), "token rejected", "reason", "wrong type", "want", string(want), "got", string(claims.Type))
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) sign(userID, email string, roles []string, typ TokenType, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Roles:  slices.Clone(roles),
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing claim"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	}
	return "invalid"
}
