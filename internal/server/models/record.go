package models

import (
	"encoding/json"
	"slices"
	"time"
)

const (
	TableUserProfiles         = "user_profiles"
	TableJournalEntries       = "journal_entries"
	TableHealthMetrics        = "health_metrics"
	TableBusinessActivities   = "business_activities"
	TableProductivitySessions = "productivity_sessions"
	TableGoals                = "goals"
	TableAIInteractions       = "ai_interactions"
	TableUserSessions         = "user_sessions"
	TableUserConsents         = "user_consents"
	TableAuditLogs            = "audit_logs"
	TableUsers                = "users"

	// ArchiveUserSnapshot is the pseudo-table name under which a full
	// pre-deletion export is archived.
	ArchiveUserSnapshot = "user_export"
)

// governedTables is ordered leaf-to-root: derived data first, the profile
// last. Deletion walks it front to back.
var governedTables = []string{
	TableAIInteractions,
	TableProductivitySessions,
	TableBusinessActivities,
	TableHealthMetrics,
	TableJournalEntries,
	TableGoals,
	TableUserSessions,
	TableUserProfiles,
}

// GovernedTables returns the user-owned record tables in deletion order.
func GovernedTables() []string {
	return slices.Clone(governedTables)
}

// IsGovernedTable reports whether table holds user-owned records.
func IsGovernedTable(table string) bool {
	return slices.Contains(governedTables, table)
}

// Record is one user-owned row of a governed table. Data holds the
// table-specific payload.
type Record struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ArchivedRecord is a sealed snapshot of a record taken before deletion.
// It is keyed by (OriginalTable, OriginalID); writing the same key twice
// overwrites.
type ArchivedRecord struct {
	OriginalTable string
	OriginalID    string
	UserID        string
	ArchivedAt    time.Time
	Sealed        []byte
}

// AccountExport is the exportable view of a User. It never carries the
// password hash or the MFA secret.
type AccountExport struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	FullName          string     `json:"full_name"`
	Roles             []string   `json:"roles"`
	MFAEnabled        bool       `json:"mfa_enabled"`
	CreatedAt         time.Time  `json:"created_at"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
	PasswordChangedAt time.Time  `json:"password_changed_at"`
}

// NewAccountExport strips credentials from u.
func NewAccountExport(u *User) *AccountExport {
	return &AccountExport{
		ID:                u.ID,
		Email:             u.Email,
		FullName:          u.FullName,
		Roles:             slices.Clone(u.Roles),
		MFAEnabled:        u.MFAEnabled,
		CreatedAt:         u.CreatedAt,
		LastLogin:         u.LastLogin,
		PasswordChangedAt: u.PasswordChangedAt,
	}
}

// ExportBundle is everything held about a user. Records has an entry, possibly
// empty, for every governed table.
type ExportBundle struct {
	UserID     string              `json:"user_id"`
	ExportedAt time.Time           `json:"exported_at"`
	Account    *AccountExport      `json:"account,omitempty"`
	Consents   []ConsentRecord     `json:"consents"`
	Records    map[string][]Record `json:"records"`
}
