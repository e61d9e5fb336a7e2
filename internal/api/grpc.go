package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"mqlbt/internal/strategy"
)

// GRPCServiceName is the fully qualified gRPC service. Every method takes
// and returns a google.protobuf.Struct holding the same JSON documents as
// the HTTP API.
const GRPCServiceName = "mqlbt.v1.Backtester"

// backtester is the handler type of the gRPC service.
type backtester interface {
	Run(ctx context.Context, req *BacktestRequest) (*BacktestResponse, error)
	Parse(ctx context.Context, req *ParseRequest) (*ParseResponse, error)
	Strategies(ctx context.Context) []strategy.Info
}

var _ backtester = (*Service)(nil)

var backtesterDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*backtester)(nil),
	Methods: []grpc.MethodDesc{
		unary("Run", func(ctx context.Context, s backtester, req *BacktestRequest) (any, error) {
			return s.Run(ctx, req)
		}),
		unary("Parse", func(ctx context.Context, s backtester, req *ParseRequest) (any, error) {
			return s.Parse(ctx, req)
		}),
		unary("Strategies", func(ctx context.Context, s backtester, _ *struct{}) (any, error) {
			return map[string]any{"strategies": s.Strategies(ctx)}, nil
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mqlbt/v1/backtester.proto",
}

// RegisterGRPC registers the backtester service on a gRPC server.
func (s *Service) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&backtesterDesc, s)
}

// unary adapts call to a gRPC method that decodes its Struct argument into
// Req and encodes the result back into a Struct.
func unary[Req any](method string, call func(ctx context.Context, s backtester, req *Req) (any, error)) grpc.MethodDesc {
	fullMethod := "/" + GRPCServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, arg any) (any, error) {
				req := new(Req)
				if err := FromStruct(arg.(*structpb.Struct), req); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "%s: %v", CodeInvalidParams, err)
				}
				out, err := call(ctx, srv.(backtester), req)
				if err != nil {
					return nil, grpcStatus(err)
				}
				st, err := ToStruct(out)
				if err != nil {
					return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
				}
				return st, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ToStruct converts v to a Struct through its JSON encoding. v must encode
// as a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	st := new(structpb.Struct)
	if err := protojson.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("converting to struct: %w", err)
	}
	return st, nil
}

// FromStruct decodes st into v through its JSON encoding. A nil st leaves
// v untouched.
func FromStruct(st *structpb.Struct, v any) error {
	if st == nil {
		return nil
	}
	b, err := protojson.Marshal(st)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
