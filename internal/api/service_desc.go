package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "mirador.investigator.v1.Investigator"

// InvestigatorServer is the server API for the Investigator service. Messages
// are google.protobuf.Struct documents whose fields follow the JSON shape of
// the models package.
type InvestigatorServer interface {
	Investigate(*structpb.Struct, InvestigateStream) error
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPatterns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseInvestigation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListScope(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// InvestigateStream is the server side of the Investigate event stream.
type InvestigateStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type investigateStream struct {
	grpc.ServerStream
}

func (s *investigateStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterInvestigatorServer registers srv with the gRPC server.
func RegisterInvestigatorServer(s grpc.ServiceRegistrar, srv InvestigatorServer) {
	s.RegisterService(&InvestigatorServiceDesc, srv)
}

func investigateHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(InvestigatorServer).Investigate(in, &investigateStream{stream})
}

type unaryMethod func(InvestigatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InvestigatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(InvestigatorServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// InvestigatorServiceDesc describes the Investigator service.
var InvestigatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InvestigatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ListRuns", InvestigatorServer.ListRuns),
		unaryHandler("GetPatterns", InvestigatorServer.GetPatterns),
		unaryHandler("CloseInvestigation", InvestigatorServer.CloseInvestigation),
		unaryHandler("ListScope", InvestigatorServer.ListScope),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Investigate",
			Handler:       investigateHandler,
			ServerStreams: true,
		},
	},
	Metadata: "investigator/v1/investigator.proto",
}
