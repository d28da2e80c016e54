package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/cryptox"
	"github.com/dmitrijs2005/idkeeper/internal/server/audit"
	"github.com/dmitrijs2005/idkeeper/internal/server/auth"
	"github.com/dmitrijs2005/idkeeper/internal/server/mfa"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/password"
	"github.com/dmitrijs2005/idkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/idkeeper/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type testEnv struct {
	conn   *grpc.ClientConn
	m      *repomanager.MemoryRepositoryManager
	auth   *services.AuthService
	tokens *auth.TokenService
}

func newTestEnv(t *testing.T, limiter ratelimit.Limiter) *testEnv {
	t.Helper()

	m := repomanager.NewMemoryRepositoryManager()
	sealer, err := cryptox.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(auth.Options{Secret: []byte("grpc-test")}, nil)
	require.NoError(t, err)
	log := audit.NewLog(m.AuditRepo, nil)

	popts := password.DefaultOptions()
	popts.BcryptCost = bcrypt.MinCost
	authSvc := services.NewAuthService(nil, m, services.AuthDeps{
		Policy: password.NewPolicy(popts),
		MFA:    mfa.NewManager(mfa.Options{Skew: 1}),
		Tokens: tokens,
		Audit:  log,
		Sealer: sealer,
	}, services.DefaultAuthOptions())
	data := services.NewDataProtectionService(nil, m, services.DataProtectionDeps{Audit: log, Sealer: sealer}, services.DataProtectionOptions{})
	privacy := services.NewPrivacyControls(data, authSvc, log, nil, time.Minute)

	s := NewGRPCServer("bufnet", nil, Deps{
		Auth:    authSvc,
		Privacy: privacy,
		Data:    data,
		Tokens:  tokens,
		Limiter: limiter,
	})

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return &testEnv{conn: conn, m: m, auth: authSvc, tokens: tokens}
}

func (e *testEnv) call(ctx context.Context, method string, req, resp any) error {
	return e.conn.Invoke(ctx, FullMethod(method), req, resp)
}

func withToken(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, token)
}

func (e *testEnv) registerAndLogin(t *testing.T, email string) *LoginResponse {
	t.Helper()
	ctx := context.Background()
	var reg RegisterResponse
	require.NoError(t, e.call(ctx, MethodRegister, &RegisterRequest{Email: email, Password: "Str0ng!Passw0rd123"}, &reg))

	var login LoginResponse
	require.NoError(t, e.call(ctx, MethodLogin, &LoginRequest{Email: email, Password: "Str0ng!Passw0rd123"}, &login))
	require.Equal(t, reg.UserID, login.UserID)
	return &login
}

func TestPing(t *testing.T) {
	e := newTestEnv(t, nil)
	var resp PingResponse
	require.NoError(t, e.call(context.Background(), MethodPing, &PingRequest{}, &resp))
	assert.Equal(t, "OK", resp.Status)
}

func TestRegisterLoginAndConsent(t *testing.T) {
	e := newTestEnv(t, nil)
	login := e.registerAndLogin(t, "alice@example.com")
	assert.NotEmpty(t, login.RefreshToken)
	assert.Positive(t, login.ExpiresIn)

	ctx := withToken(login.AccessToken)
	var upd UpdateConsentResponse
	require.NoError(t, e.call(ctx, MethodUpdateConsent, &UpdateConsentRequest{Category: "analytics", Granted: true}, &upd))
	assert.NotEmpty(t, upd.ConsentID)

	var got GetConsentResponse
	require.NoError(t, e.call(ctx, MethodGetConsent, &GetConsentRequest{}, &got))
	assert.True(t, got.Consents[models.ConsentAnalytics])
	assert.False(t, got.Consents[models.ConsentMarketing])

	err := e.call(ctx, MethodUpdateConsent, &UpdateConsentRequest{Category: "bogus"}, &upd)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestProtectedMethodsNeedAccessToken(t *testing.T) {
	e := newTestEnv(t, nil)
	login := e.registerAndLogin(t, "alice@example.com")

	var out GetConsentResponse
	err := e.call(context.Background(), MethodGetConsent, &GetConsentRequest{}, &out)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = e.call(withToken("garbage"), MethodGetConsent, &GetConsentRequest{}, &out)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	// a refresh token is not an access token
	err = e.call(withToken(login.RefreshToken), MethodGetConsent, &GetConsentRequest{}, &out)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestAdminMethodsNeedAdminRole(t *testing.T) {
	e := newTestEnv(t, nil)
	login := e.registerAndLogin(t, "alice@example.com")

	var resp RetentionSweepResponse
	err := e.call(withToken(login.AccessToken), MethodRunRetentionSweep, &RetentionSweepRequest{}, &resp)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	admin, err := e.tokens.IssuePair("admin-1", "root@example.com", []string{models.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, e.call(withToken(admin.AccessToken), MethodRunRetentionSweep, &RetentionSweepRequest{}, &resp))
	require.NotNil(t, resp.Report)
	assert.Empty(t, resp.Error)
}

func TestLockoutOverTheWire(t *testing.T) {
	e := newTestEnv(t, nil)
	login := e.registerAndLogin(t, "alice@example.com")
	ctx := context.Background()

	var out LoginResponse
	var err error
	for i := 0; i < 5; i++ {
		err = e.call(ctx, MethodLogin, &LoginRequest{Email: "alice@example.com", Password: "Wr0ng!Password99"}, &out)
	}
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	err = e.call(ctx, MethodLogin, &LoginRequest{Email: "alice@example.com", Password: "Str0ng!Passw0rd123"}, &out)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	admin, err := e.tokens.IssuePair("admin-1", "root@example.com", []string{models.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, e.call(withToken(admin.AccessToken), MethodUnlockAccount, &UnlockAccountRequest{UserID: login.UserID}, &Empty{}))
	require.NoError(t, e.call(ctx, MethodLogin, &LoginRequest{Email: "alice@example.com", Password: "Str0ng!Passw0rd123"}, &out))

	err = e.call(withToken(admin.AccessToken), MethodUnlockAccount, &UnlockAccountRequest{UserID: "0b9f6c1e-2d4a-4e55-9c1d-7a3f2b8e6d10"}, &Empty{})
	assert.Equal(t, codes.NotFound, status.Code(err))
	err = e.call(withToken(admin.AccessToken), MethodUnlockAccount, &UnlockAccountRequest{UserID: "not-a-uuid"}, &Empty{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestExportJob(t *testing.T) {
	e := newTestEnv(t, nil)
	login := e.registerAndLogin(t, "alice@example.com")
	other := e.registerAndLogin(t, "bob@example.com")
	ctx := withToken(login.AccessToken)

	var job JobResponse
	require.NoError(t, e.call(ctx, MethodRequestExport, &RequestExportRequest{}, &job))

	var st JobStatusResponse
	require.Eventually(t, func() bool {
		if err := e.call(ctx, MethodJobStatus, &JobStatusRequest{JobID: job.JobID}, &st); err != nil {
			return false
		}
		return st.State == string(services.JobDone)
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, st.Export)
	assert.Equal(t, "alice@example.com", st.Export.Account.Email)

	err := e.call(withToken(other.AccessToken), MethodJobStatus, &JobStatusRequest{JobID: job.JobID}, &st)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestExportJob_GoneAfterDeletion(t *testing.T) {
	e := newTestEnv(t, nil)
	login := e.registerAndLogin(t, "alice@example.com")
	ctx := withToken(login.AccessToken)

	var export JobResponse
	require.NoError(t, e.call(ctx, MethodRequestExport, &RequestExportRequest{}, &export))
	var st JobStatusResponse
	require.Eventually(t, func() bool {
		err := e.call(ctx, MethodJobStatus, &JobStatusRequest{JobID: export.JobID}, &st)
		return err == nil && st.State == string(services.JobDone)
	}, 2*time.Second, 10*time.Millisecond)

	var deletion JobResponse
	require.NoError(t, e.call(ctx, MethodRequestDeletion, &RequestDeletionRequest{Password: "Str0ng!Passw0rd123"}, &deletion))
	require.Eventually(t, func() bool {
		var d JobStatusResponse
		err := e.call(ctx, MethodJobStatus, &JobStatusRequest{JobID: deletion.JobID}, &d)
		return err == nil && d.State == string(services.JobDone)
	}, 2*time.Second, 10*time.Millisecond)

	// the access token is still valid but the export is gone
	var after JobStatusResponse
	err := e.call(ctx, MethodJobStatus, &JobStatusRequest{JobID: export.JobID}, &after)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Nil(t, after.Export)
}

func TestRateLimitedLogin(t *testing.T) {
	e := newTestEnv(t, ratelimit.NewMemoryLimiter(2, time.Minute))
	ctx := context.Background()

	var out LoginResponse
	req := &LoginRequest{Email: "nobody@example.com", Password: "Str0ng!Passw0rd123"}
	assert.Equal(t, codes.Unauthenticated, status.Code(e.call(ctx, MethodLogin, req, &out)))
	assert.Equal(t, codes.Unauthenticated, status.Code(e.call(ctx, MethodLogin, req, &out)))
	assert.Equal(t, codes.ResourceExhausted, status.Code(e.call(ctx, MethodLogin, req, &out)))

	// Ping is never throttled
	require.NoError(t, e.call(ctx, MethodPing, &PingRequest{}, &PingResponse{}))
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", nil, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}
