package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"golang.org/x/sync/errgroup"
)

// workerGroup is a set of workers joined together; an error returned by
// a worker is escalated to the session immediately.
type workerGroup struct {
	name    string
	group   errgroup.Group
	running atomic.Int64
}

func (g *workerGroup) spawn(s *Session, name string, fn func() error) {
	g.running.Add(1)
	g.group.Go(func() (_err error) {
		ctx := s.pipelineCtx
		logger.Debugf(ctx, "worker %s started", name)
		defer func() { logger.Debugf(ctx, "worker %s finished: %v", name, _err) }()
		defer g.running.Add(-1)

		err := fn()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(ctx, err)
			return err
		}
		return nil
	})
}

// join waits for all the workers; a worker which did not exit within the
// timeout is reported as a leaked resource.
func (g *workerGroup) join(ctx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- g.group.Wait()
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		return screenrecorder.ResourceError{
			Resource: g.name + " workers",
			Err:      fmt.Errorf("%d workers did not exit within %v", g.running.Load(), timeout),
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
