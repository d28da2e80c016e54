package grpc

import (
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/services"
)

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type LoginResponse struct {
	MFARequired  bool   `json:"mfa_required"`
	UserID       string `json:"user_id,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type Empty struct{}

type SetupMFARequest struct{}

type SetupMFAResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

type EnableMFARequest struct {
	Code string `json:"code"`
}

type DisableMFARequest struct {
	Password string `json:"password"`
}

type UnlockAccountRequest struct {
	UserID string `json:"user_id"`
}

type UpdateConsentRequest struct {
	Category string `json:"category"`
	Granted  bool   `json:"granted"`
}

type UpdateConsentResponse struct {
	ConsentID string    `json:"consent_id"`
	Timestamp time.Time `json:"timestamp"`
}

type GetConsentRequest struct{}

type GetConsentResponse struct {
	Consents map[models.ConsentCategory]bool `json:"consents"`
}

type RequestExportRequest struct{}

type RequestDeletionRequest struct {
	Password string `json:"password"`
}

type JobResponse struct {
	JobID string `json:"job_id"`
}

type JobStatusRequest struct {
	JobID string `json:"job_id"`
}

type JobStatusResponse struct {
	JobID      string               `json:"job_id"`
	Kind       string               `json:"kind"`
	State      string               `json:"state"`
	Error      string               `json:"error,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Export     *models.ExportBundle `json:"export,omitempty"`
}

type DashboardRequest struct{}

type RetentionSweepRequest struct{}

type RetentionSweepResponse struct {
	Report *services.SweepReport `json:"report"`
	Error  string                `json:"error,omitempty"`
}
