package signalrpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"execution-core/internal/engine"
)

// TokenHeader carries the shared intake token.
const TokenHeader = "x-signal-token"

// Server adapts engine.Service to SignalServer.
type Server struct {
	engine engine.Service
	logger *zap.Logger
}

var _ SignalServer = (*Server)(nil)

// NewServer creates a signal server backed by svc.
func NewServer(svc engine.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: svc, logger: logger.Named("signalrpc")}
}

// SubmitSignal decodes a signal, routes it and returns the outcome. A rejected
// signal is a successful call whose outcome has accepted=false.
func (s *Server) SubmitSignal(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var sig engine.Signal
	if err := decode(in, &sig); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "signal: %v", err)
	}
	out := s.engine.SubmitSignal(ctx, sig)
	return encode(out)
}

// PushMarks applies a batch of reference prices: {"marks": [{"symbol", "price"}]}.
func (s *Server) PushMarks(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		Marks []engine.Mark `json:"marks"`
	}
	if err := decode(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "marks: %v", err)
	}
	if len(req.Marks) == 0 {
		return nil, status.Error(codes.InvalidArgument, "marks: empty batch")
	}
	if err := s.engine.PushMarks(ctx, req.Marks); err != nil {
		if errors.Is(err, engine.ErrInvalidMark) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{"applied": len(req.Marks)})
}

func decode(in *structpb.Struct, v any) error {
	if in == nil {
		return errors.New("empty message")
	}
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// TokenInterceptor rejects calls whose TokenHeader does not match token.
// An empty token disables the check.
func TokenInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		got := md.Get(TokenHeader)
		if len(got) == 0 || subtle.ConstantTimeCompare([]byte(got[0]), []byte(token)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid signal token")
		}
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call with its latency and status code.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("signalrpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("rpc", fields...)
		}
		return resp, err
	}
}

// NewGRPCServer builds a grpc.Server with the signal service registered.
func NewGRPCServer(svc engine.Service, token string, logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingInterceptor(logger),
		TokenInterceptor(token),
	))
	Register(s, NewServer(svc, logger))
	return s
}

// Client calls the signal service.
type Client struct {
	conn  grpc.ClientConnInterface
	token string
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface, token string) *Client {
	return &Client{conn: conn, token: token}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, TokenHeader, c.token)
}

// SubmitSignal sends sig and decodes the outcome.
func (c *Client) SubmitSignal(ctx context.Context, sig engine.Signal) (engine.Outcome, error) {
	in, err := encode(sig)
	if err != nil {
		return engine.Outcome{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), SubmitSignalMethod, in, out); err != nil {
		return engine.Outcome{}, err
	}
	var o engine.Outcome
	if err := decode(out, &o); err != nil {
		return engine.Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return o, nil
}

// PushMarks sends a batch of marks.
func (c *Client) PushMarks(ctx context.Context, marks []engine.Mark) error {
	in, err := encode(struct {
		Marks []engine.Mark `json:"marks"`
	}{marks})
	if err != nil {
		return err
	}
	return c.conn.Invoke(c.outgoing(ctx), PushMarksMethod, in, new(structpb.Struct))
}
