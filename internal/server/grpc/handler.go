package grpc

import (
	"context"

	"github.com/dmitrijs2005/idkeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) Ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	s.logger.Info(ctx, "Registration request")

	u, err := s.auth.Register(ctx, req.Email, req.Password, req.FullName, originFromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "Registered", "user_id", u.ID)
	return &RegisterResponse{UserID: u.ID}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	res, err := s.auth.Login(ctx, req.Email, req.Password, req.MFACode, originFromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	if res.MFARequired {
		return &LoginResponse{MFARequired: true}, nil
	}
	return &LoginResponse{
		UserID:       res.User.ID,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresIn:    res.Tokens.ExpiresIn,
	}, nil
}

func (s *GRPCServer) RefreshToken(ctx context.Context, req *RefreshTokenRequest) (*RefreshTokenResponse, error) {
	access, expiresIn, err := s.auth.RefreshAccess(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RefreshTokenResponse{AccessToken: access, ExpiresIn: expiresIn}, nil
}

func (s *GRPCServer) ChangePassword(ctx context.Context, req *ChangePasswordRequest) (*Empty, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if err := s.auth.ChangePassword(ctx, claims.UserID, req.CurrentPassword, req.NewPassword, originFromContext(ctx)); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *GRPCServer) SetupMFA(ctx context.Context, req *SetupMFARequest) (*SetupMFAResponse, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	setup, err := s.auth.SetupMFA(ctx, claims.UserID, originFromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return &SetupMFAResponse{Secret: setup.Secret, ProvisioningURI: setup.ProvisioningURI}, nil
}

func (s *GRPCServer) EnableMFA(ctx context.Context, req *EnableMFARequest) (*Empty, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if err := s.auth.EnableMFA(ctx, claims.UserID, req.Code, originFromContext(ctx)); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *GRPCServer) DisableMFA(ctx context.Context, req *DisableMFARequest) (*Empty, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if err := s.auth.DisableMFA(ctx, claims.UserID, req.Password, originFromContext(ctx)); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *GRPCServer) UnlockAccount(ctx context.Context, req *UnlockAccountRequest) (*Empty, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	if err := s.auth.UnlockAccount(ctx, claims.UserID, req.UserID, originFromContext(ctx)); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *GRPCServer) UpdateConsent(ctx context.Context, req *UpdateConsentRequest) (*UpdateConsentResponse, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	rec, err := s.privacy.UpdateConsent(ctx, claims.UserID, req.Category, req.Granted, originFromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return &UpdateConsentResponse{ConsentID: rec.ID, Timestamp: rec.Timestamp}, nil
}

func (s *GRPCServer) GetConsent(ctx context.Context, req *GetConsentRequest) (*GetConsentResponse, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	state, err := s.data.Consent(ctx, claims.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetConsentResponse{Consents: state}, nil
}

func (s *GRPCServer) RequestExport(ctx context.Context, req *RequestExportRequest) (*JobResponse, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	id, err := s.privacy.RequestExport(ctx, claims.UserID, originFromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return &JobResponse{JobID: id}, nil
}

func (s *GRPCServer) RequestDeletion(ctx context.Context, req *RequestDeletionRequest) (*JobResponse, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	id, err := s.privacy.RequestDeletion(ctx, claims.UserID, req.Password, originFromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return &JobResponse{JobID: id}, nil
}

// JobStatus only reveals jobs that belong to the caller.
func (s *GRPCServer) JobStatus(ctx context.Context, req *JobStatusRequest) (*JobStatusResponse, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	job, err := s.privacy.JobStatus(req.JobID)
	if err != nil || job.UserID != claims.UserID {
		return nil, toStatus(services.ErrJobNotFound)
	}

	resp := &JobStatusResponse{
		JobID:  job.ID,
		Kind:   string(job.Kind),
		State:  string(job.State),
		Error:  job.Error,
		Export: job.Export,
	}
	if !job.FinishedAt.IsZero() {
		resp.FinishedAt = &job.FinishedAt
	}
	return resp, nil
}

func (s *GRPCServer) PrivacyDashboard(ctx context.Context, req *DashboardRequest) (*services.Dashboard, error) {
	claims, err := claimsFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	d, err := s.data.Dashboard(ctx, claims.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return d, nil
}

// RunRetentionSweep triggers a sweep on demand. A partial failure still
// returns the report, with the joined error as text.
func (s *GRPCServer) RunRetentionSweep(ctx context.Context, req *RetentionSweepRequest) (*RetentionSweepResponse, error) {
	report, err := s.data.RetentionSweep(ctx)
	if report == nil {
		return nil, toStatus(err)
	}
	resp := &RetentionSweepResponse{Report: report}
	if err != nil {
		s.logger.Warn(ctx, "retention sweep partial failure", "error", err)
		resp.Error = err.Error()
	}
	return resp, nil
}
