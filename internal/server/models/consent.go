package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/common"
)

// ConsentCategory is one of a fixed set of things a user can consent to.
type ConsentCategory string

const (
	ConsentEssential       ConsentCategory = "essential"
	ConsentAnalytics       ConsentCategory = "analytics"
	ConsentMarketing       ConsentCategory = "marketing"
	ConsentPersonalization ConsentCategory = "personalization"
	ConsentThirdParty      ConsentCategory = "third_party"
)

// ConsentCategories lists every known category in a stable order.
func ConsentCategories() []ConsentCategory {
	return []ConsentCategory{
		ConsentEssential,
		ConsentAnalytics,
		ConsentMarketing,
		ConsentPersonalization,
		ConsentThirdParty,
	}
}

// ParseConsentCategory rejects anything outside the fixed set with a
// validation error.
func ParseConsentCategory(s string) (ConsentCategory, error) {
	c := ConsentCategory(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ConsentCategories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", common.ErrUnknownConsentCategory, s)
}

// ConsentRecord is an append-only consent decision. The current state of a
// category is the record with the latest Timestamp.
type ConsentRecord struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Category      ConsentCategory `json:"category"`
	Granted       bool            `json:"granted"`
	Timestamp     time.Time       `json:"timestamp"`
	Origin        Origin          `json:"origin"`
	PolicyVersion string          `json:"policy_version"`
}
