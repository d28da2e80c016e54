// Package mfa implements time-based one-time codes (RFC 6238, HMAC-SHA1,
// 30 second step, 6 digits) for the second authentication factor.
package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	secretBytes   = 20
	defaultDigits = 6
	defaultPeriod = 30 * time.Second
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrInvalidSecret is returned for a secret that is not valid base32.
var ErrInvalidSecret = errors.New("invalid totp secret")

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Issuer string
	// Skew is how many steps either side of now are accepted.
	Skew   int
	Digits int
	Period time.Duration
	Now    func() time.Time
}

type Manager struct {
	issuer string
	skew   int
	digits int
	period time.Duration
	now    func() time.Time
}

func NewManager(o Options) *Manager {
	m := &Manager{issuer: o.Issuer, skew: o.Skew, digits: o.Digits, period: o.Period, now: o.Now}
	if m.issuer == "" {
		m.issuer = "idkeeper"
	}
	if m.skew < 0 {
		m.skew = 0
	}
	if m.digits <= 0 {
		m.digits = defaultDigits
	}
	if m.period <= 0 {
		m.period = defaultPeriod
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Window is the default clock-skew window in steps.
func (m *Manager) Window() int { return m.skew }

// GenerateSecret returns a fresh 160-bit secret, base32 encoded without
// padding.
func (m *Manager) GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return b32.EncodeToString(b), nil
}

// ProvisioningURI builds the otpauth:// URI authenticator apps consume.
func (m *Manager) ProvisioningURI(email, secret string) string {
	label := url.PathEscape(m.issuer) + ":" + url.PathEscape(email)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", m.issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprint(m.digits))
	q.Set("period", fmt.Sprint(int(m.period/time.Second)))
	return "otpauth://totp/" + label + "?" + q.Encode()
}

// Code returns the code for secret at t.
func (m *Manager) Code(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return m.codeAt(key, m.counter(t)), nil
}

// VerifyCode checks code against the steps within window of now. A negative
// window uses the manager's configured skew.
func (m *Manager) VerifyCode(secret, code string, window int) bool {
	if window < 0 {
		window = m.skew
	}
	code = strings.TrimSpace(code)
	if len(code) != m.digits || !allDigits(code) {
		return false
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return false
	}

	now := m.counter(m.now())
	ok := 0
	for d := -window; d <= window; d++ {
		c := now + int64(d)
		if c < 0 {
			continue
		}
		ok |= subtle.ConstantTimeCompare([]byte(m.codeAt(key, c)), []byte(code))
	}
	return ok == 1
}

func (m *Manager) counter(t time.Time) int64 {
	return t.Unix() / int64(m.period/time.Second)
}

func (m *Manager) codeAt(key []byte, counter int64) string {
	msg := make([]byte, 8)
	binary.BigEndian.PutUint64(msg, uint64(counter))
	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := uint32(sum[offset]&0x7f)<<24 | uint32(sum[offset+1])<<16 | uint32(sum[offset+2])<<8 | uint32(sum[offset+3])

	mod := uint32(1)
	for i := 0; i < m.digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", m.digits, bin%mod)
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	s = strings.TrimRight(s, "=")
	key, err := b32.DecodeString(s)
	if err != nil || len(key) == 0 {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
