// Package password validates, hashes and verifies user passwords.
package password

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// DefaultSymbols is the set of characters that satisfy the symbol rule.
const DefaultSymbols = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// MaxBytes is the longest password bcrypt can hash without truncation.
const MaxBytes = 72

// Options configures a Policy. Zero values select the defaults.
type Options struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
	Symbols       string
	BcryptCost    int
}

// DefaultOptions returns the stock rules: 12 characters with upper, lower,
// digit and symbol.
func DefaultOptions() Options {
	return Options{
		MinLength:     12,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
		Symbols:       DefaultSymbols,
		BcryptCost:    bcrypt.DefaultCost,
	}
}

// Policy is stateless apart from its options and safe for concurrent use.
type Policy struct {
	opts Options

	dummyOnce sync.Once
	dummy     []byte
}

func NewPolicy(opts Options) *Policy {
	if opts.MinLength <= 0 {
		opts.MinLength = 12
	}
	if opts.Symbols == "" {
		opts.Symbols = DefaultSymbols
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Policy{opts: opts}
}

// Validate returns every rule the password breaks. An empty slice means the
// password is acceptable.
func (p *Policy) Validate(password string) []string {
	var violations []string

	if n := utf8.RuneCountInString(password); n < p.opts.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters long", p.opts.MinLength))
	}
	if len(password) > MaxBytes {
		violations = append(violations, fmt.Sprintf("must be at most %d bytes long", MaxBytes))
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(p.opts.Symbols, r):
			symbol = true
		}
	}

	if p.opts.RequireUpper && !upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if p.opts.RequireLower && !lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if p.opts.RequireDigit && !digit {
		violations = append(violations, "must contain a digit")
	}
	if p.opts.RequireSymbol && !symbol {
		violations = append(violations, "must contain a symbol from "+p.opts.Symbols)
	}
	return violations
}

// Hash returns a salted bcrypt hash of password.
func (p *Policy) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), p.opts.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Verify reports whether password matches hash. bcrypt compares in
// constant time; a malformed hash simply fails.
func (p *Policy) Verify(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// BurnVerify runs a full bcrypt comparison against a throwaway hash of the
// policy's cost, so a lookup miss takes as long as a wrong password.
func (p *Policy) BurnVerify(password string) {
	p.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("idkeeper-dummy-password"), p.opts.BcryptCost)
		if err == nil {
			p.dummy = h
		}
	})
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(password))
}
