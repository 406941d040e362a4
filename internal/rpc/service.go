package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "spacesaver.v1.Coordinator"

// Method names.
const (
	MethodClaim          = "Claim"
	MethodHeartbeat      = "Heartbeat"
	MethodReportProgress = "ReportProgress"
	MethodComplete       = "Complete"
	MethodFail           = "Fail"
	MethodGetJob         = "GetJob"
)

// CoordinatorServer is the server side of the worker protocol.
type CoordinatorServer interface {
	Claim(context.Context, *types.ClaimRequest) (*types.ClaimResponse, error)
	Heartbeat(context.Context, *types.HeartbeatRequest) (*types.Empty, error)
	ReportProgress(context.Context, *types.ProgressRequest) (*types.ProgressResponse, error)
	Complete(context.Context, *types.CompleteRequest) (*types.Empty, error)
	Fail(context.Context, *types.FailRequest) (*types.Empty, error)
	GetJob(context.Context, *types.JobRequest) (*types.JobResponse, error)
}

// ServiceDesc describes the coordinator service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodClaim, CoordinatorServer.Claim),
		unary(MethodHeartbeat, CoordinatorServer.Heartbeat),
		unary(MethodReportProgress, CoordinatorServer.ReportProgress),
		unary(MethodComplete, CoordinatorServer.Complete),
		unary(MethodFail, CoordinatorServer.Fail),
		unary(MethodGetJob, CoordinatorServer.GetJob),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spacesaver/v1/coordinator",
}

// RegisterCoordinatorServer registers srv on s.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns "/<service>/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](name string, call func(CoordinatorServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CoordinatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CoordinatorServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
