package grpc

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/server/auth"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	claimsKey ctxKey = "claims"
	originKey ctxKey = "origin"
)

var (
	// rateLimited are the unauthenticated entry points throttled per origin.
	rateLimited = []string{
		FullMethod(MethodRegister),
		FullMethod(MethodLogin),
		FullMethod(MethodRefreshToken),
	}
	// public methods need no access token.
	public = []string{
		FullMethod(MethodPing),
		FullMethod(MethodRegister),
		FullMethod(MethodLogin),
		FullMethod(MethodRefreshToken),
	}
	adminOnly = []string{
		FullMethod(MethodUnlockAccount),
		FullMethod(MethodRunRetentionSweep),
	}
)

// originInterceptor records the caller's address and client descriptor.
func (s *GRPCServer) originInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var o models.Origin
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		o.IPAddress = p.Addr.String()
		if host, _, err := net.SplitHostPort(o.IPAddress); err == nil {
			o.IPAddress = host
		}
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(common.UserAgentHeaderName); len(v) > 0 {
			o.UserAgent = v[0]
		}
	}
	return handler(context.WithValue(ctx, originKey, o), req)
}

func (s *GRPCServer) rateLimitInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.limiter == nil || !slices.Contains(rateLimited, info.FullMethod) {
		return handler(ctx, req)
	}

	origin := originFromContext(ctx)
	ok, err := s.limiter.Allow(ctx, origin.Key())
	if err != nil {
		s.logger.Error(ctx, "rate limiter unavailable", "method", info.FullMethod, "error", err)
		return nil, status.Error(codes.Unavailable, "rate limiter unavailable")
	}
	if !ok {
		s.logger.Warn(ctx, "rate limit exceeded", "method", info.FullMethod, "origin", origin.Key())
		return nil, status.Error(codes.ResourceExhausted, "too many requests")
	}
	return handler(ctx, req)
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if slices.Contains(public, info.FullMethod) {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
			accessToken = values[0]
		} else if values := md.Get("authorization"); len(values) > 0 {
			accessToken = strings.TrimPrefix(values[0], "Bearer ")
		}
	}
	if accessToken == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, toStatus(err)
	}

	if slices.Contains(adminOnly, info.FullMethod) && !slices.Contains(claims.Roles, models.RoleAdmin) {
		s.logger.Warn(ctx, "forbidden", "method", info.FullMethod, "user_id", claims.UserID)
		return nil, toStatus(common.ErrForbidden)
	}

	return handler(context.WithValue(ctx, claimsKey, claims), req)
}

func originFromContext(ctx context.Context) models.Origin {
	o, _ := ctx.Value(originKey).(models.Origin)
	return o
}

func claimsFromContext(ctx context.Context) (*auth.Claims, error) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	if !ok || c == nil {
		return nil, errors.New("no claims in context")
	}
	return c, nil
}
