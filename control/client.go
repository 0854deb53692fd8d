package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type Client struct {
	Target      string
	DialOptions []grpc.DialOption
}

func NewClient(target string, opts ...grpc.DialOption) *Client {
	return &Client{
		Target:      target,
		DialOptions: opts,
	}
}

func (c *Client) grpcConn() (*grpc.ClientConn, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, c.DialOptions...)
	conn, err := grpc.NewClient(c.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a gRPC client: %w", err)
	}
	return conn, nil
}

func (c *Client) invoke(ctx context.Context, method string, reply any) (_err error) {
	logger.Debugf(ctx, "invoke(%s)", method)
	defer func() { logger.Debugf(ctx, "/invoke(%s): %v", method, _err) }()

	conn, err := c.grpcConn()
	if err != nil {
		return err
	}
	defer conn.Close()

	err = conn.Invoke(ctx, "/"+ServiceName+"/"+method, &emptypb.Empty{}, reply)
	if err != nil {
		return fromStatus(err)
	}
	return nil
}

func (c *Client) Pause(ctx context.Context) error {
	return c.invoke(ctx, "Pause", &emptypb.Empty{})
}

func (c *Client) Resume(ctx context.Context) error {
	return c.invoke(ctx, "Resume", &emptypb.Empty{})
}

// Stop stops the remote recording. As with a local session, the summary
// is returned even if the session failed.
func (c *Client) Stop(ctx context.Context) (*screenrecorder.Summary, error) {
	reply := &structpb.Struct{}
	if err := c.invoke(ctx, "Stop", reply); err != nil {
		return nil, err
	}
	var summary screenrecorder.Summary
	if err := fromStruct(reply, &summary); err != nil {
		return nil, err
	}
	if summary.Error != "" {
		return &summary, errors.New(summary.Error)
	}
	return &summary, nil
}

func (c *Client) Status(ctx context.Context) (*screenrecorder.Status, error) {
	reply := &structpb.Struct{}
	if err := c.invoke(ctx, "Status", reply); err != nil {
		return nil, err
	}
	var st screenrecorder.Status
	if err := fromStruct(reply, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func fromStatus(err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("query error: %w", err)
	}
	switch s.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w", s.Message(), screenrecorder.ErrInvalidState)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", s.Message(), context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", s.Message(), context.DeadlineExceeded)
	}
	return fmt.Errorf("query error: %w", err)
}
