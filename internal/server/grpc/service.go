package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "idkeeper.v1.Identity"

const (
	MethodPing              = "Ping"
	MethodRegister          = "Register"
	MethodLogin             = "Login"
	MethodRefreshToken      = "RefreshToken"
	MethodChangePassword    = "ChangePassword"
	MethodSetupMFA          = "SetupMFA"
	MethodEnableMFA         = "EnableMFA"
	MethodDisableMFA        = "DisableMFA"
	MethodUnlockAccount     = "UnlockAccount"
	MethodUpdateConsent     = "UpdateConsent"
	MethodGetConsent        = "GetConsent"
	MethodRequestExport     = "RequestExport"
	MethodRequestDeletion   = "RequestDeletion"
	MethodJobStatus         = "JobStatus"
	MethodPrivacyDashboard  = "PrivacyDashboard"
	MethodRunRetentionSweep = "RunRetentionSweep"
)

// FullMethod returns the gRPC path of a method, e.g. "/idkeeper.v1.Identity/Login".
func FullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

type identityServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
}

// unary adapts a typed server method to a grpc.MethodDesc, the same shape
// protoc-gen-go-grpc emits.
func unary[Req, Resp any](name string, call func(*GRPCServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*GRPCServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var identityServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*identityServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPing, (*GRPCServer).Ping),
		unary(MethodRegister, (*GRPCServer).Register),
		unary(MethodLogin, (*GRPCServer).Login),
		unary(MethodRefreshToken, (*GRPCServer).RefreshToken),
		unary(MethodChangePassword, (*GRPCServer).ChangePassword),
		unary(MethodSetupMFA, (*GRPCServer).SetupMFA),
		unary(MethodEnableMFA, (*GRPCServer).EnableMFA),
		unary(MethodDisableMFA, (*GRPCServer).DisableMFA),
		unary(MethodUnlockAccount, (*GRPCServer).UnlockAccount),
		unary(MethodUpdateConsent, (*GRPCServer).UpdateConsent),
		unary(MethodGetConsent, (*GRPCServer).GetConsent),
		unary(MethodRequestExport, (*GRPCServer).RequestExport),
		unary(MethodRequestDeletion, (*GRPCServer).RequestDeletion),
		unary(MethodJobStatus, (*GRPCServer).JobStatus),
		unary(MethodPrivacyDashboard, (*GRPCServer).PrivacyDashboard),
		unary(MethodRunRetentionSweep, (*GRPCServer).RunRetentionSweep),
	},
	Streams:  []grpc.StreamDesc{},
}
