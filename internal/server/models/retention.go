package models

import "time"

const (
	Day  = 24 * time.Hour
	Year = 365 * Day
)

// RetentionPolicy configures how long records of one category are kept.
// Category is the governed table name.
type RetentionPolicy struct {
	Category            string         `json:"category"`
	Window              time.Duration  `json:"window"`
	Classification      Classification `json:"classification"`
	AutoDelete          bool           `json:"auto_delete"`
	ArchiveBeforeDelete bool           `json:"archive_before_delete"`
}

// DefaultRetentionPolicies returns the built-in retention table.
func DefaultRetentionPolicies() []RetentionPolicy {
	return []RetentionPolicy{
		{Category: TableJournalEntries, Window: 7 * Year, Classification: ClassificationConfidential, AutoDelete: true, ArchiveBeforeDelete: true},
		{Category: TableHealthMetrics, Window: 7 * Year, Classification: ClassificationConfidential, AutoDelete: true, ArchiveBeforeDelete: true},
		{Category: TableBusinessActivities, Window: 7 * Year, Classification: ClassificationConfidential, AutoDelete: true, ArchiveBeforeDelete: true},
		{Category: TableProductivitySessions, Window: 3 * Year, Classification: ClassificationInternal, AutoDelete: true, ArchiveBeforeDelete: true},
		{Category: TableAIInteractions, Window: Year, Classification: ClassificationInternal, AutoDelete: true, ArchiveBeforeDelete: true},
		{Category: TableUserSessions, Window: 90 * Day, Classification: ClassificationInternal, AutoDelete: true, ArchiveBeforeDelete: true},
		// Audit logs are kept for compliance and never swept automatically.
		{Category: TableAuditLogs, Window: 7 * Year, Classification: ClassificationRestricted, AutoDelete: false, ArchiveBeforeDelete: true},
	}
}
