// Package rtmp publishes encoded tracks to an RTMP server.
package rtmp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/muxer/flv"
	"github.com/xaionaro-go/secret"
	gortmp "github.com/xaionaro-go/go-rtmp"
	rtmpmsg "github.com/xaionaro-go/go-rtmp/message"
	"github.com/xaionaro-go/xsync"
	"github.com/yutopp/go-flv/tag"
)

const (
	DefaultChunkSize    = 128
	DefaultSetupTimeout = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	flashVer         = "FMLE/3.0 (compatible; screenrecorder)"

	chunkStreamIDAudio = 4
	chunkStreamIDVideo = 6
)

type Config struct {
	URL       string
	StreamKey secret.String
	ChunkSize uint32

	// SetupTimeout bounds dialing, the handshake and publishing.
	SetupTimeout time.Duration

	// WriteTimeout bounds a single message write; a server which does not
	// read makes the writes fail instead of blocking.
	WriteTimeout time.Duration
}

// Target is a parsed publishing destination.
type Target struct {
	Address        string
	App            string
	TCURL          string
	PublishingName string
}

// ParseTarget splits the URL into the server address, the application
// and the stream name. A non-empty stream key is used as the stream name,
// otherwise the last path element is.
func ParseTarget(urlString string, streamKey string) (*Target, error) {
	if urlString == "" {
		return nil, fmt.Errorf("the provided URL is empty")
	}
	u, err := url.Parse(urlString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse URL '%s': %w", urlString, err)
	}
	if u.Scheme != "rtmp" {
		return nil, fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}
	if u.Port() == "" {
		u.Host += ":1935"
	}

	path := strings.Trim(u.Path, "/")
	if streamKey == "" {
		idx := strings.LastIndex(path, "/")
		if idx < 0 {
			return nil, fmt.Errorf("no stream name in URL '%s' and no stream key", urlString)
		}
		path, streamKey = path[:idx], path[idx+1:]
	}
	if path == "" {
		return nil, fmt.Errorf("no application in URL '%s'", urlString)
	}

	return &Target{
		Address:        u.Host,
		App:            path,
		TCURL:          (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/" + path}).String(),
		PublishingName: streamKey,
	}, nil
}

type trackState struct {
	descriptor screenrecorder.TrackDescriptor
	started    bool
	firstPTS   screenrecorder.Timestamp
	endPTS     screenrecorder.Timestamp
	lastDTS    screenrecorder.Timestamp
	packets    uint64
}

type Muxer struct {
	BytesSent atomic.Uint64

	locker       xsync.Mutex
	target       *Target
	writeTimeout time.Duration
	client       *gortmp.ClientConn
	stream       *gortmp.Stream
	tracks       map[screenrecorder.TrackID]*trackState
	order        []screenrecorder.TrackID

	// closed is not guarded by locker, so Abort does not wait for a stuck write
	closed atomic.Bool
}

var _ screenrecorder.Muxer = (*Muxer)(nil)

// NewFactory returns a MuxerFactory publishing to cfg.URL; the path given to OpenMuxer is ignored.
func NewFactory(cfg Config) screenrecorder.MuxerFactory {
	return screenrecorder.MuxerFactoryFunc(func(
		ctx context.Context,
		_ string,
		tracks []screenrecorder.TrackDescriptor,
	) (screenrecorder.Muxer, error) {
		return Open(ctx, cfg, tracks)
	})
}

func Open(
	ctx context.Context,
	cfg Config,
	tracks []screenrecorder.TrackDescriptor,
) (_ret *Muxer, _err error) {
	target, err := ParseTarget(cfg.URL, cfg.StreamKey.Get())
	if err != nil {
		return nil, screenrecorder.ConfigError{Field: "push_targets.url", Reason: err.Error()}
	}
	logger.Debugf(ctx, "rtmp.Open(%s/%s)", target.TCURL, target.App)
	defer func() { logger.Debugf(ctx, "/rtmp.Open(%s): %v", target.TCURL, _err) }()

	m := &Muxer{
		target: target,
		tracks: map[screenrecorder.TrackID]*trackState{},
	}
	for _, track := range tracks {
		if err := flv.CheckTrack(track); err != nil {
			return nil, screenrecorder.MuxError{Err: err}
		}
		m.tracks[track.ID] = &trackState{descriptor: track}
		m.order = append(m.order, track.ID)
	}
	headers, err := flv.SequenceHeaders(tracks)
	if err != nil {
		return nil, screenrecorder.MuxError{Err: err}
	}

	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	setupTimeout := cfg.SetupTimeout
	if setupTimeout <= 0 {
		setupTimeout = DefaultSetupTimeout
	}
	m.writeTimeout = cfg.WriteTimeout
	if m.writeTimeout <= 0 {
		m.writeTimeout = DefaultWriteTimeout
	}

	// the handshake inside go-rtmp has no deadline of its own
	setupCtx, cancelFn := context.WithTimeout(ctx, setupTimeout)
	defer cancelFn()
	type setupResult struct {
		client *gortmp.ClientConn
		stream *gortmp.Stream
		err    error
	}
	resultCh := make(chan setupResult, 1)
	observability.Go(ctx, func(ctx context.Context) {
		client, stream, err := m.setup(setupCtx, chunkSize)
		resultCh <- setupResult{client: client, stream: stream, err: err}
	})

	var result setupResult
	select {
	case result = <-resultCh:
	case <-setupCtx.Done():
		observability.Go(ctx, func(ctx context.Context) {
			if r := <-resultCh; r.client != nil {
				_ = r.client.Close()
			}
		})
		return nil, screenrecorder.ResourceError{Resource: target.TCURL, Err: fmt.Errorf("unable to set up the stream: %w", setupCtx.Err())}
	}
	if result.err != nil {
		return nil, screenrecorder.ResourceError{Resource: target.TCURL, Err: result.err}
	}
	m.client, m.stream = result.client, result.stream
	defer func() {
		if _err != nil {
			_ = m.client.Close()
		}
	}()

	for _, t := range headers {
		if err := m.writeTag(ctx, t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Muxer) setup(
	ctx context.Context,
	chunkSize uint32,
) (_client *gortmp.ClientConn, _stream *gortmp.Stream, _err error) {
	dialer := &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	client, err := gortmp.DialWithDialer(dialer, "rtmp", m.target.Address, &gortmp.ConnConfig{})
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if _err != nil {
			_ = client.Close()
		}
	}()

	err = client.Connect(ctx, &rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      m.target.App,
			Type:     "nonprivate",
			FlashVer: flashVer,
			TCURL:    m.target.TCURL,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect: %w", err)
	}

	stream, err := client.CreateStream(ctx, nil, chunkSize)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create a stream: %w", err)
	}

	err = stream.Publish(ctx, &rtmpmsg.NetStreamPublish{
		PublishingName: m.target.PublishingName,
		PublishingType: "live",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to publish: %w", err)
	}
	return client, stream, nil
}

func (m *Muxer) writeTag(ctx context.Context, t *tag.FlvTag) error {
	body, err := flv.EncodeTagBody(t)
	if err != nil {
		return screenrecorder.MuxError{Err: err}
	}

	var (
		msg           rtmpmsg.Message
		chunkStreamID int
	)
	switch t.TagType {
	case tag.TagTypeAudio:
		msg, chunkStreamID = &rtmpmsg.AudioMessage{Payload: bytes.NewReader(body)}, chunkStreamIDAudio
	case tag.TagTypeVideo:
		msg, chunkStreamID = &rtmpmsg.VideoMessage{Payload: bytes.NewReader(body)}, chunkStreamIDVideo
	default:
		return screenrecorder.MuxError{Err: fmt.Errorf("unexpected tag type %v", t.TagType)}
	}

	ctx, cancelFn := context.WithTimeout(ctx, m.writeTimeout)
	defer cancelFn()
	if err := m.stream.Write(ctx, chunkStreamID, t.Timestamp, msg); err != nil {
		return screenrecorder.MuxError{Err: fmt.Errorf("unable to send a message to '%s': %w", m.target.TCURL, err)}
	}
	m.BytesSent.Add(uint64(len(body)))
	return nil
}

func (m *Muxer) WritePacket(
	ctx context.Context,
	pkt screenrecorder.EncodedPacket,
) error {
	return xsync.DoR1(ctx, &m.locker, func() error {
		if m.closed.Load() {
			return screenrecorder.MuxError{Err: screenrecorder.ErrClosed}
		}
		track, ok := m.tracks[pkt.TrackID]
		if !ok {
			return screenrecorder.MuxError{Err: fmt.Errorf("unknown track %d", pkt.TrackID)}
		}
		if track.started && pkt.DTS < track.lastDTS {
			return screenrecorder.MuxError{Err: fmt.Errorf("DTS of track %d went backwards: %v < %v", pkt.TrackID, pkt.DTS, track.lastDTS)}
		}
		t, err := flv.PacketTag(track.descriptor, pkt)
		if err != nil {
			return screenrecorder.MuxError{Err: err}
		}
		if err := m.writeTag(ctx, t); err != nil {
			return err
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
		return nil
	})
}

// Finalize closes the connection; the published stream ends.
func (m *Muxer) Finalize(ctx context.Context) (*screenrecorder.ContainerInfo, error) {
	return xsync.DoR2(ctx, &m.locker, func() (*screenrecorder.ContainerInfo, error) {
		if m.closed.Swap(true) {
			return nil, screenrecorder.MuxError{Err: screenrecorder.ErrClosed}
		}
		logger.Debugf(ctx, "rtmp.Finalize(%s): %d bytes sent", m.target.TCURL, m.BytesSent.Load())

		info := &screenrecorder.ContainerInfo{
			Path:            m.target.TCURL,
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

		if err := m.client.Close(); err != nil {
			return info, screenrecorder.MuxError{Err: fmt.Errorf("unable to close the connection: %w", err)}
		}
		return info, nil
	})
}

// Abort closes the connection without waiting for a write in progress;
// that write fails.
func (m *Muxer) Abort(ctx context.Context) error {
	if m.closed.Swap(true) {
		return nil
	}
	logger.Debugf(ctx, "rtmp.Abort(%s)", m.target.TCURL)
	return m.client.Close()
}
