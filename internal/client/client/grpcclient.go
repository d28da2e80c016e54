package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	api "github.com/dmitrijs2005/idkeeper/internal/server/grpc"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Tokens is the pair handed out at login.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn

	mu     sync.RWMutex
	tokens Tokens
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}

	return metadata.NewOutgoingContext(ctx, md)
}

// accessTokenInterceptor attaches the access token and, when the server
// rejects it, refreshes once with the refresh token and retries.
func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	tokens := s.Tokens()
	err := invoker(withAccessToken(ctx, tokens.AccessToken), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	if status.Code(err) != codes.Unauthenticated || tokens.RefreshToken == "" {
		return err
	}
	if method == api.FullMethod(api.MethodRefreshToken) || method == api.FullMethod(api.MethodLogin) {
		return err
	}

	var refreshed api.RefreshTokenResponse
	if rerr := invoker(ctx, api.FullMethod(api.MethodRefreshToken), &api.RefreshTokenRequest{RefreshToken: tokens.RefreshToken}, &refreshed, cc, opts...); rerr != nil {
		return err
	}

	s.SetTokens(Tokens{AccessToken: refreshed.AccessToken, RefreshToken: tokens.RefreshToken})
	return invoker(withAccessToken(ctx, refreshed.AccessToken), method, req, reply, cc, opts...)
}

func NewIdentityClient(endpointURL string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (s *GRPCClient) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *GRPCClient) SetTokens(t Tokens) {
	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) call(ctx context.Context, method string, req, resp any) error {
	return s.mapError(s.conn.Invoke(ctx, api.FullMethod(method), req, resp))
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	var resp api.PingResponse
	return s.call(ctx, api.MethodPing, &api.PingRequest{}, &resp)
}

func (s *GRPCClient) Register(ctx context.Context, email, password, fullName string) (string, error) {
	var resp api.RegisterResponse
	if err := s.call(ctx, api.MethodRegister, &api.RegisterRequest{Email: email, Password: password, FullName: fullName}, &resp); err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// Login stores the issued tokens on success. MFARequired in the response
// means the call must be repeated with a code.
func (s *GRPCClient) Login(ctx context.Context, email, password, mfaCode string) (*api.LoginResponse, error) {
	var resp api.LoginResponse
	if err := s.call(ctx, api.MethodLogin, &api.LoginRequest{Email: email, Password: password, MFACode: mfaCode}, &resp); err != nil {
		return nil, err
	}
	if !resp.MFARequired {
		s.SetTokens(Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	}
	return &resp, nil
}

func (s *GRPCClient) ChangePassword(ctx context.Context, current, next string) error {
	return s.call(ctx, api.MethodChangePassword, &api.ChangePasswordRequest{CurrentPassword: current, NewPassword: next}, &api.Empty{})
}

func (s *GRPCClient) SetupMFA(ctx context.Context) (*api.SetupMFAResponse, error) {
	var resp api.SetupMFAResponse
	if err := s.call(ctx, api.MethodSetupMFA, &api.SetupMFARequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *GRPCClient) EnableMFA(ctx context.Context, code string) error {
	return s.call(ctx, api.MethodEnableMFA, &api.EnableMFARequest{Code: code}, &api.Empty{})
}

func (s *GRPCClient) DisableMFA(ctx context.Context, password string) error {
	return s.call(ctx, api.MethodDisableMFA, &api.DisableMFARequest{Password: password}, &api.Empty{})
}

func (s *GRPCClient) UnlockAccount(ctx context.Context, userID string) error {
	return s.call(ctx, api.MethodUnlockAccount, &api.UnlockAccountRequest{UserID: userID}, &api.Empty{})
}

func (s *GRPCClient) UpdateConsent(ctx context.Context, category string, granted bool) (*api.UpdateConsentResponse, error) {
	var resp api.UpdateConsentResponse
	if err := s.call(ctx, api.MethodUpdateConsent, &api.UpdateConsentRequest{Category: category, Granted: granted}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *GRPCClient) GetConsent(ctx context.Context) (map[models.ConsentCategory]bool, error) {
	var resp api.GetConsentResponse
	if err := s.call(ctx, api.MethodGetConsent, &api.GetConsentRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Consents, nil
}

func (s *GRPCClient) RequestExport(ctx context.Context) (string, error) {
	var resp api.JobResponse
	if err := s.call(ctx, api.MethodRequestExport, &api.RequestExportRequest{}, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (s *GRPCClient) RequestDeletion(ctx context.Context, password string) (string, error) {
	var resp api.JobResponse
	if err := s.call(ctx, api.MethodRequestDeletion, &api.RequestDeletionRequest{Password: password}, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (s *GRPCClient) JobStatus(ctx context.Context, jobID string) (*api.JobStatusResponse, error) {
	var resp api.JobStatusResponse
	if err := s.call(ctx, api.MethodJobStatus, &api.JobStatusRequest{JobID: jobID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *GRPCClient) Dashboard(ctx context.Context) (*services.Dashboard, error) {
	var resp services.Dashboard
	if err := s.call(ctx, api.MethodPrivacyDashboard, &api.DashboardRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *GRPCClient) RunRetentionSweep(ctx context.Context) (*api.RetentionSweepResponse, error) {
	var resp api.RetentionSweepResponse
	if err := s.call(ctx, api.MethodRunRetentionSweep, &api.RetentionSweepRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// mapError turns transport failures into the package sentinels. Business
// errors keep the server's message.
func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrForbidden, st.Message())
	case codes.ResourceExhausted:
		return ErrRateLimited
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
		return errors.New(st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
