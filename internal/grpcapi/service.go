// Package grpcapi exposes the claims hand-off to back-end services over gRPC.
//
// Messages are the well-known wrapper and struct types, so callers need no
// generated stubs: the request is a google.protobuf.StringValue and the
// response a google.protobuf.Struct holding the same JSON the HTTP API returns.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/obs"
	"tessera.dev/internal/ott"
)

const ServiceName = "tessera.auth.v1.ClaimsService"

const (
	exchangeMethod = "/" + ServiceName + "/ExchangeOneTimeToken"
	verifyMethod   = "/" + ServiceName + "/VerifySession"
)

// ClaimsServer is the server API of ClaimsService.
type ClaimsServer interface {
	// ExchangeOneTimeToken redeems a one-time token for its claims.
	ExchangeOneTimeToken(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// VerifySession checks a session token and returns its decoded payload.
	VerifySession(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// ClaimsServiceDesc describes ClaimsService for grpc.Server.RegisterService.
var ClaimsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClaimsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExchangeOneTimeToken", Handler: exchangeHandler},
		{MethodName: "VerifySession", Handler: verifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tessera/auth/v1/claims.proto",
}

func exchangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClaimsServer).ExchangeOneTimeToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: exchangeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClaimsServer).ExchangeOneTimeToken(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func verifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClaimsServer).VerifySession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: verifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClaimsServer).VerifySession(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements ClaimsServer on top of auth.Service.
type Server struct {
	svc *auth.Service
}

var _ ClaimsServer = (*Server)(nil)

func NewServer(svc *auth.Service) *Server {
	return &Server{svc: svc}
}

// Register adds ClaimsService to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ClaimsServiceDesc, s)
}

func (s *Server) ExchangeOneTimeToken(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	c, err := s.svc.Exchange(ctx, in.GetValue())
	if err != nil {
		return nil, statusFor(err)
	}
	return toStruct(c)
}

func (s *Server) VerifySession(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	session, err := s.svc.VerifySession(ctx, in.GetValue())
	if err != nil {
		return nil, statusFor(err)
	}
	return toStruct(session)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode claims: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode claims: %v", err)
	}
	return out, nil
}

func statusFor(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ott.ErrNotFoundOrExpired):
		return status.Error(codes.NotFound, "invalid or expired one-time token")
	case errors.Is(err, auth.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid or expired session")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// UnaryLogger writes one JSON line per call.
func UnaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	level := "info"
	if code != codes.OK {
		level = "warn"
		if code == codes.Internal || code == codes.Unknown {
			level = "error"
		}
	}
	obs.Log(level, "rpc_complete", map[string]any{
		"method":      info.FullMethod,
		"code":        code.String(),
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
	return resp, err
}

// Client calls ClaimsService over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ExchangeOneTimeToken(ctx context.Context, oneTimeToken string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, exchangeMethod, wrapperspb.String(oneTimeToken), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VerifySession(ctx context.Context, session string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, verifyMethod, wrapperspb.String(session), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
