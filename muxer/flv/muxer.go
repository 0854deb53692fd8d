// Package flv writes encoded tracks into an FLV file.
package flv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/xsync"
	goflv "github.com/yutopp/go-flv"
)

const (
	// PartSuffix is appended to the output path until the file is finalized.
	PartSuffix = ".part"

	DefaultInterleaveWindow = 500 * time.Millisecond
	DefaultMaxBuffered      = 512
)

type trackState struct {
	descriptor screenrecorder.TrackDescriptor
	started    bool
	lastDTS    screenrecorder.Timestamp
	firstPTS   screenrecorder.Timestamp
	endPTS     screenrecorder.Timestamp
	packets    uint64
}

type Muxer struct {
	// InterleaveWindow is how long packets are held to be sorted by DTS across tracks.
	InterleaveWindow time.Duration
	// MaxBuffered is the amount of held packets after which the oldest are written regardless of the window.
	MaxBuffered int

	locker    xsync.Mutex
	path      string
	partPath  string
	file      *os.File
	writer    *bufio.Writer
	encoder   *goflv.Encoder
	tracks    map[screenrecorder.TrackID]*trackState
	order     []screenrecorder.TrackID
	pending   []screenrecorder.EncodedPacket
	maxDTS    screenrecorder.Timestamp
	closed    bool
	finalInfo *screenrecorder.ContainerInfo
}

var _ screenrecorder.Muxer = (*Muxer)(nil)

// NewFactory returns a MuxerFactory opening FLV files.
func NewFactory() screenrecorder.MuxerFactory {
	return screenrecorder.MuxerFactoryFunc(func(
		ctx context.Context,
		path string,
		tracks []screenrecorder.TrackDescriptor,
	) (screenrecorder.Muxer, error) {
		return Open(ctx, path, tracks)
	})
}

// Open creates "<path>.part" and writes the FLV header and codec configurations.
func Open(
	ctx context.Context,
	path string,
	tracks []screenrecorder.TrackDescriptor,
) (_ret *Muxer, _err error) {
	logger.Debugf(ctx, "Open(%s, %d tracks)", path, len(tracks))
	defer func() { logger.Debugf(ctx, "/Open(%s): %v", path, _err) }()

	if len(tracks) == 0 {
		return nil, screenrecorder.MuxError{Err: fmt.Errorf("no tracks")}
	}
	m := &Muxer{
		InterleaveWindow: DefaultInterleaveWindow,
		MaxBuffered:      DefaultMaxBuffered,
		path:             path,
		partPath:         path + PartSuffix,
		tracks:           map[screenrecorder.TrackID]*trackState{},
	}
	var flags goflv.Flags
	for _, track := range tracks {
		if err := CheckTrack(track); err != nil {
			return nil, screenrecorder.MuxError{Err: err}
		}
		if _, ok := m.tracks[track.ID]; ok {
			return nil, screenrecorder.MuxError{Err: fmt.Errorf("duplicate track ID %d", track.ID)}
		}
		m.tracks[track.ID] = &trackState{descriptor: track}
		m.order = append(m.order, track.ID)
		switch track.Kind {
		case screenrecorder.TrackKindVideo:
			flags |= goflv.FlagsVideo
		case screenrecorder.TrackKindAudio:
			flags |= goflv.FlagsAudio
		}
	}

	headers, err := SequenceHeaders(tracks)
	if err != nil {
		return nil, screenrecorder.MuxError{Err: err}
	}

	f, err := os.Create(m.partPath)
	if err != nil {
		return nil, screenrecorder.ResourceError{Resource: m.partPath, Err: err}
	}
	m.file = f
	m.writer = bufio.NewWriter(f)
	defer func() {
		if _err != nil {
			_ = m.file.Close()
			_ = os.Remove(m.partPath)
		}
	}()

	m.encoder, err = goflv.NewEncoder(m.writer, flags)
	if err != nil {
		return nil, screenrecorder.MuxError{Err: fmt.Errorf("unable to write the FLV header: %w", err)}
	}
	for _, t := range headers {
		if err := m.encoder.Encode(t); err != nil {
			return nil, screenrecorder.MuxError{Err: fmt.Errorf("unable to write a sequence header: %w", err)}
		}
	}
	return m, nil
}

// Path returns the final path of the output.
func (m *Muxer) Path() string {
	return m.path
}

func (m *Muxer) WritePacket(
	ctx context.Context,
	pkt screenrecorder.EncodedPacket,
) error {
	return xsync.DoA2R1(ctx, &m.locker, m.writePacketLocked, ctx, pkt)
}

func (m *Muxer) writePacketLocked(
	ctx context.Context,
	pkt screenrecorder.EncodedPacket,
) error {
	if m.closed {
		return screenrecorder.MuxError{Err: screenrecorder.ErrClosed}
	}
	track, ok := m.tracks[pkt.TrackID]
	if !ok {
		return screenrecorder.MuxError{Err: fmt.Errorf("unknown track %d", pkt.TrackID)}
	}
	if track.started && pkt.DTS < track.lastDTS {
		return screenrecorder.MuxError{Err: fmt.Errorf("DTS of track %d went backwards: %v < %v", pkt.TrackID, pkt.DTS, track.lastDTS)}
	}
	if !track.started {
		track.started = true
		track.firstPTS = pkt.PTS
	}
	track.lastDTS = pkt.DTS
	if end := pkt.PTS + pkt.Duration; end > track.endPTS {
		track.endPTS = end
	}
	track.packets++

	if pkt.DTS > m.maxDTS {
		m.maxDTS = pkt.DTS
	}
	m.pending = append(m.pending, pkt)
	return m.flushPendingLocked(ctx, false)
}

// flushPendingLocked writes the held packets which are older than the
// interleave window (or all of them if force is set) ordered by DTS.
func (m *Muxer) flushPendingLocked(ctx context.Context, force bool) error {
	if len(m.pending) == 0 {
		return nil
	}
	sort.SliceStable(m.pending, func(i, j int) bool {
		return m.pending[i].DTS < m.pending[j].DTS
	})

	n := 0
	for n < len(m.pending) {
		if !force && m.pending[n].DTS > m.maxDTS-m.InterleaveWindow && len(m.pending)-n <= m.MaxBuffered {
			break
		}
		if err := m.writeTagLocked(ctx, m.pending[n]); err != nil {
			return err
		}
		n++
	}
	m.pending = append(m.pending[:0], m.pending[n:]...)
	return nil
}

func (m *Muxer) writeTagLocked(ctx context.Context, pkt screenrecorder.EncodedPacket) error {
	t, err := PacketTag(m.tracks[pkt.TrackID].descriptor, pkt)
	if err != nil {
		return screenrecorder.MuxError{Err: err}
	}
	if err := m.encoder.Encode(t); err != nil {
		return screenrecorder.MuxError{Err: fmt.Errorf("unable to write %s: %w", pkt.String(), err)}
	}
	logger.Tracef(ctx, "wrote %s", pkt.String())
	return nil
}

// Finalize writes the held packets, closes the file and moves it to the final path.
// On failure the partial file is removed.
func (m *Muxer) Finalize(ctx context.Context) (*screenrecorder.ContainerInfo, error) {
	return xsync.DoR2(ctx, &m.locker, func() (*screenrecorder.ContainerInfo, error) {
		return m.finalizeLocked(ctx)
	})
}

func (m *Muxer) finalizeLocked(ctx context.Context) (_ret *screenrecorder.ContainerInfo, _err error) {
	logger.Debugf(ctx, "Finalize(%s)", m.path)
	defer func() { logger.Debugf(ctx, "/Finalize(%s): %v", m.path, _err) }()

	if m.closed {
		if m.finalInfo != nil {
			return m.finalInfo, nil
		}
		return nil, screenrecorder.MuxError{Err: screenrecorder.ErrClosed}
	}
	m.closed = true

	err := m.flushPendingLocked(ctx, true)
	if err == nil {
		err = m.writer.Flush()
	}
	if err == nil {
		err = m.file.Sync()
	}
	if closeErr := m.file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(m.partPath, m.path)
	}
	if err != nil {
		if removeErr := os.Remove(m.partPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			logger.Errorf(ctx, "unable to remove '%s': %v", m.partPath, removeErr)
		}
		var muxErr screenrecorder.MuxError
		if !errors.As(err, &muxErr) {
			err = screenrecorder.MuxError{Err: fmt.Errorf("unable to finalize '%s': %w", m.path, err)}
		}
		return nil, err
	}

	m.finalInfo = m.infoLocked()
	return m.finalInfo, nil
}

func (m *Muxer) infoLocked() *screenrecorder.ContainerInfo {
	info := &screenrecorder.ContainerInfo{
		Path:            m.path,
		PacketsPerTrack: map[screenrecorder.TrackID]uint64{},
		DurationByTrack: map[screenrecorder.TrackID]time.Duration{},
	}
	for _, id := range m.order {
		track := m.tracks[id]
		info.Tracks = append(info.Tracks, track.descriptor)
		info.PacketsPerTrack[id] = track.packets
		if track.started {
			info.DurationByTrack[id] = track.endPTS - track.firstPTS
		}
	}
	return info
}

// Abort closes and removes the partial file.
func (m *Muxer) Abort(ctx context.Context) error {
	return xsync.DoR1(ctx, &m.locker, func() error {
		logger.Debugf(ctx, "Abort(%s)", m.path)
		if m.closed {
			return nil
		}
		m.closed = true
		m.pending = nil
		_ = m.file.Close()
		if err := os.Remove(m.partPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return screenrecorder.ResourceError{Resource: m.partPath, Err: err}
		}
		return nil
	})
}
