package session

import (
	"context"
	"errors"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
)

// deliverPacket is the sink of both encoders.
func (s *Session) deliverPacket(ctx context.Context, pkt screenrecorder.EncodedPacket) error {
	select {
	case s.muxCh <- pkt:
		return nil
	case <-s.muxDone:
		return screenrecorder.MuxError{Err: screenrecorder.ErrClosed}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// muxLoop writes packets until muxStop is closed and the buffered packets
// are written. After a write failure the remaining packets are discarded.
func (s *Session) muxLoop(ctx context.Context) {
	logger.Debugf(ctx, "muxLoop")
	defer func() { logger.Debugf(ctx, "/muxLoop: %d packets", s.Stats.PacketsMuxed.Load()) }()

	for {
		select {
		case pkt := <-s.muxCh:
			s.writePacket(ctx, pkt)
		case <-s.muxStop:
			for {
				select {
				case pkt := <-s.muxCh:
					s.writePacket(ctx, pkt)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) writePacket(ctx context.Context, pkt screenrecorder.EncodedPacket) {
	if s.muxError.Load() {
		logger.Tracef(ctx, "discarding %s", pkt.String())
		return
	}
	err := s.muxer.WritePacket(ctx, pkt)
	if err == nil {
		s.Stats.PacketsMuxed.Add(1)
		return
	}
	var muxErr screenrecorder.MuxError
	if !errors.As(err, &muxErr) {
		err = screenrecorder.MuxError{Err: err}
	}
	s.muxError.Store(true)
	s.fail(ctx, err)
}
