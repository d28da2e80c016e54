package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/idkeeper/internal/logging"
	"github.com/dmitrijs2005/idkeeper/internal/server/auth"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/idkeeper/internal/server/services"
	"google.golang.org/grpc"
)

type authService interface {
	Register(ctx context.Context, email, password, fullName string, origin models.Origin) (*models.User, error)
	Login(ctx context.Context, email, password, mfaCode string, origin models.Origin) (*services.LoginResult, error)
	RefreshAccess(ctx context.Context, refreshToken string) (string, int64, error)
	ChangePassword(ctx context.Context, userID, current, next string, origin models.Origin) error
	SetupMFA(ctx context.Context, userID string, origin models.Origin) (*services.MFASetup, error)
	EnableMFA(ctx context.Context, userID, code string, origin models.Origin) error
	DisableMFA(ctx context.Context, userID, password string, origin models.Origin) error
	UnlockAccount(ctx context.Context, actorID, userID string, origin models.Origin) error
}

type privacyService interface {
	UpdateConsent(ctx context.Context, userID, category string, granted bool, origin models.Origin) (*models.ConsentRecord, error)
	RequestExport(ctx context.Context, userID string, origin models.Origin) (string, error)
	RequestDeletion(ctx context.Context, userID, password string, origin models.Origin) (string, error)
	JobStatus(jobID string) (services.Job, error)
}

type dataService interface {
	Consent(ctx context.Context, userID string) (map[models.ConsentCategory]bool, error)
	Dashboard(ctx context.Context, userID string) (*services.Dashboard, error)
	RetentionSweep(ctx context.Context) (*services.SweepReport, error)
}

type tokenVerifier interface {
	VerifyAccess(token string) (*auth.Claims, error)
}

// Deps are the services the gRPC layer dispatches to.
type Deps struct {
	Auth    authService
	Privacy privacyService
	Data    dataService
	Tokens  tokenVerifier
	Limiter ratelimit.Limiter
}

type GRPCServer struct {
	address string
	auth    authService
	privacy privacyService
	data    dataService
	tokens  tokenVerifier
	limiter ratelimit.Limiter
	logger  logging.Logger
}

func NewGRPCServer(address string, l logging.Logger, d Deps) *GRPCServer {
	if l == nil {
		l = logging.Nop{}
	}
	return &GRPCServer{
		address: address,
		auth:    d.Auth,
		privacy: d.Privacy,
		data:    d.Data,
		tokens:  d.Tokens,
		limiter: d.Limiter,
		logger:  l.With("module", "grpc_server"),
	}
}

// newGRPC builds the grpc.Server with the interceptor chain and the
// service registered.
func (s *GRPCServer) newGRPC() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.originInterceptor,
		s.rateLimitInterceptor,
		s.accessTokenInterceptor,
	))
	srv.RegisterService(&identityServiceDesc, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newGRPC()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
