// Package control exposes a running recording to other processes over gRPC.
//
// The service is described by a hand-written grpc.ServiceDesc and uses only
// the protobuf well-known types, so no generated code is needed.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/screenrecorder"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "screenrecorder.control.v1.Control"

// Recorder is what the service controls; *session.Session implements it.
type Recorder interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) (*screenrecorder.Summary, error)
	Status() screenrecorder.Status
}

// ControlServer is the server API of the service.
type ControlServer interface {
	Pause(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Resume(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type Server struct {
	GRPCServer *grpc.Server
	Recorder   Recorder

	isStarted atomic.Bool
	belt      atomic.Pointer[belt.Belt]
}

var _ ControlServer = (*Server)(nil)

func NewServer(recorder Recorder, opts ...grpc.ServerOption) *Server {
	srv := &Server{
		GRPCServer: grpc.NewServer(opts...),
		Recorder:   recorder,
	}
	srv.GRPCServer.RegisterService(&ServiceDesc, srv)
	return srv
}

// Serve blocks serving the listener until ctx is done or the server is stopped.
func (srv *Server) Serve(
	ctx context.Context,
	listener net.Listener,
) (_err error) {
	logger.Debugf(ctx, "Serve(%s)", listener.Addr())
	defer func() { logger.Debugf(ctx, "/Serve(%s): %v", listener.Addr(), _err) }()

	if !srv.isStarted.CompareAndSwap(false, true) {
		return fmt.Errorf("this gRPC server was already started")
	}
	srv.belt.Store(belt.CtxBelt(ctx))

	stopped := make(chan struct{})
	defer close(stopped)
	observability.Go(ctx, func(ctx context.Context) {
		select {
		case <-ctx.Done():
			srv.GRPCServer.GracefulStop()
		case <-stopped:
		}
	})

	err := srv.GRPCServer.Serve(listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (srv *Server) ctx(ctx context.Context) context.Context {
	if b := srv.belt.Load(); b != nil {
		ctx = belt.CtxWithBelt(ctx, b)
	}
	return ctx
}

func (srv *Server) Pause(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	ctx = srv.ctx(ctx)
	if err := srv.Recorder.Pause(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (srv *Server) Resume(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	ctx = srv.ctx(ctx)
	if err := srv.Recorder.Resume(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Stop stops the recording; a session failure is reported inside the
// summary rather than as an RPC error.
func (srv *Server) Stop(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ctx = srv.ctx(ctx)
	summary, err := srv.Recorder.Stop(ctx)
	if summary == nil {
		if err == nil {
			err = fmt.Errorf("no summary")
		}
		return nil, toStatus(err)
	}
	if err != nil {
		logger.Debugf(ctx, "the session failed: %v", err)
	}
	s, err := toStruct(summary)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func (srv *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s, err := toStruct(srv.Recorder.Status())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, screenrecorder.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func unaryHandler[Resp any](
	call func(srv ControlServer, ctx context.Context, req *emptypb.Empty) (Resp, error),
	method string,
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*emptypb.Empty))
		})
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Pause", Handler: unaryHandler(ControlServer.Pause, "Pause")},
		{MethodName: "Resume", Handler: unaryHandler(ControlServer.Resume, "Resume")},
		{MethodName: "Stop", Handler: unaryHandler(ControlServer.Stop, "Stop")},
		{MethodName: "Status", Handler: unaryHandler(ControlServer.Status, "Status")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "screenrecorder/control/v1/control.proto",
}
