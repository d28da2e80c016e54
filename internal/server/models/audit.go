package models

import "time"

// AuditCategory groups audit events by the area they concern.
type AuditCategory string

const (
	AuditRegistration AuditCategory = "registration"
	AuditLogin        AuditCategory = "login"
	AuditMFA          AuditCategory = "mfa"
	AuditPassword     AuditCategory = "password"
	AuditAccount      AuditCategory = "account"
	AuditConsent      AuditCategory = "consent"
	AuditDataExport   AuditCategory = "data_export"
	AuditDataDeletion AuditCategory = "data_deletion"
	AuditRetention    AuditCategory = "retention"
)

var auditClassification = map[AuditCategory]Classification{
	AuditRegistration: ClassificationInternal,
	AuditLogin:        ClassificationInternal,
	AuditConsent:      ClassificationInternal,
	AuditMFA:          ClassificationConfidential,
	AuditPassword:     ClassificationConfidential,
	AuditAccount:      ClassificationConfidential,
	AuditDataExport:   ClassificationConfidential,
	AuditDataDeletion: ClassificationRestricted,
	AuditRetention:    ClassificationRestricted,
}

// Classification returns the sensitivity inherited by events of category c.
func (c AuditCategory) Classification() Classification {
	if cl, ok := auditClassification[c]; ok {
		return cl
	}
	return ClassificationInternal
}

// AuditEvent is an append-only security log entry. UserID is
// common.SystemActor for events not tied to a user.
type AuditEvent struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Category       AuditCategory  `json:"category"`
	Action         string         `json:"action"`
	Origin         Origin         `json:"origin"`
	Detail         string         `json:"detail"`
	Classification Classification `json:"classification"`
	Timestamp      time.Time      `json:"timestamp"`
}
