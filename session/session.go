// Package session runs a recording: it wires the capture sources through
// the processors and encoders into a muxer and owns the lifecycle of all
// the workers in between.
package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/audioproc"
	"github.com/xaionaro-go/screenrecorder/cursor"
	"github.com/xaionaro-go/screenrecorder/encoder"
	"github.com/xaionaro-go/screenrecorder/internal/queue"
	"github.com/xaionaro-go/screenrecorder/internal/timeline"
	"github.com/xaionaro-go/screenrecorder/videoproc"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

// Dependencies are the external collaborators of a session.
type Dependencies struct {
	// FrameSource is required if video is enabled.
	FrameSource screenrecorder.FrameSource

	// AudioSources must contain a source for every enabled audio source ID.
	AudioSources map[screenrecorder.AudioSourceID]screenrecorder.AudioSource

	// CursorSource feeds the cursor overlay; optional.
	CursorSource cursor.PositionSource

	Encoders screenrecorder.EncoderFactory
	Muxer    screenrecorder.MuxerFactory
}

type Stats struct {
	VideoFramesCaptured atomic.Uint64
	VideoFramesDropped  atomic.Uint64
	AudioBlocksCaptured atomic.Uint64
	AudioSamplesEncoded atomic.Uint64
	// AudioSilence is the silence inserted after the aligner: windows
	// with no source at all and blocks the encoder could not take.
	AudioSilence        atomic.Int64
	AudioLevelDB        atomic.Uint64
	PacketsMuxed        atomic.Uint64
}

func (s *Stats) audioLevelDB() float64 {
	return math.Float64frombits(s.AudioLevelDB.Load())
}

type Session struct {
	Stats Stats

	id       string
	config   screenrecorder.RecorderConfig
	deps     Dependencies
	observer screenrecorder.Observer
	clock    *timeline.Clock
	tracker  *cursor.Tracker
	closer   *astikit.Closer

	locker   xsync.Mutex
	state    screenrecorder.SessionState
	resumeCh chan struct{}

	pipelineCtx    context.Context
	pipelineCancel context.CancelFunc
	captureCtx     context.Context
	captureCancel  context.CancelFunc

	captureWorkers workerGroup
	processWorkers workerGroup
	encodeWorkers  workerGroup

	videoQueue     *queue.Bounded[*screenrecorder.VideoFrame]
	videoProcessor *videoproc.Processor
	video          *encoder.Video

	audioQueue     *queue.Bounded[audioItem]
	audioProcessor *audioproc.Processor
	aligner        *audioproc.Aligner
	audio          *encoder.Audio

	muxer    screenrecorder.Muxer
	muxCh    chan screenrecorder.EncodedPacket
	muxStop  chan struct{}
	muxDone  chan struct{}
	muxError atomic.Bool

	failOnce sync.Once
	failedCh chan struct{}
	fatalErr error

	stopOnce   sync.Once
	done       chan struct{}
	summary    *screenrecorder.Summary
	summaryErr error
}

// Start validates the config, opens the encoders and the muxer and spawns
// all the workers. Nothing is left allocated if an error is returned.
func Start(
	ctx context.Context,
	cfg screenrecorder.RecorderConfig,
	deps Dependencies,
	opts ...Option,
) (_ret *Session, _err error) {
	logger.Debugf(ctx, "Start(%s)", cfg.OutputPath)
	defer func() { logger.Debugf(ctx, "/Start(%s): %v", cfg.OutputPath, _err) }()

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := Options(opts).config()
	if err := checkDependencies(cfg, deps); err != nil {
		return nil, err
	}

	s := &Session{
		id:       uuid.NewString(),
		config:   cfg,
		deps:     deps,
		observer: o.Observer,
		clock:    timeline.NewClock(o.TimeSource),
		tracker:  o.CursorTracker,
		closer:   astikit.NewCloser(),
		state:    screenrecorder.SessionStateIdle,
		resumeCh: make(chan struct{}),
		muxStop:  make(chan struct{}),
		muxDone:  make(chan struct{}),
		failedCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	close(s.resumeCh)
	s.setState(ctx, screenrecorder.SessionStateStarting, nil)

	defer func() {
		if _err != nil {
			if err := s.closer.Close(); err != nil {
				logger.Errorf(ctx, "unable to release the resources: %v", err)
			}
			s.setState(ctx, screenrecorder.SessionStateFailed, _err)
		}
	}()

	tracks, err := s.openEncoders(ctx)
	if err != nil {
		return nil, err
	}

	s.muxer, err = deps.Muxer.OpenMuxer(ctx, cfg.OutputPath, tracks)
	if err != nil {
		return nil, err
	}
	s.muxCh = make(chan screenrecorder.EncodedPacket, cfg.Video.QueueSize+cfg.Audio.QueueSize)

	s.pipelineCtx, s.pipelineCancel = context.WithCancel(xcontext.DetachDone(ctx))
	s.captureCtx, s.captureCancel = context.WithCancel(s.pipelineCtx)
	s.closer.Add(func() { s.pipelineCancel() })

	s.clock.Start()
	s.spawnWorkers(ctx)
	s.setState(ctx, screenrecorder.SessionStateRecording, nil)

	observability.Go(ctx, func(ctx context.Context) {
		s.supervise(s.pipelineCtx)
	})
	return s, nil
}

func checkDependencies(cfg screenrecorder.RecorderConfig, deps Dependencies) error {
	if deps.Encoders == nil {
		return screenrecorder.ResourceError{Resource: "encoder factory", Err: fmt.Errorf("not provided")}
	}
	if deps.Muxer == nil {
		return screenrecorder.ResourceError{Resource: "muxer factory", Err: fmt.Errorf("not provided")}
	}
	if cfg.Video.Enabled && deps.FrameSource == nil {
		return screenrecorder.ResourceError{Resource: "frame source", Err: fmt.Errorf("not provided")}
	}
	for _, src := range cfg.Audio.EnabledSources() {
		if deps.AudioSources[src.ID] == nil {
			return screenrecorder.ResourceError{Resource: fmt.Sprintf("audio source '%s'", src.ID), Err: fmt.Errorf("not provided")}
		}
	}
	return nil
}

func (s *Session) openEncoders(ctx context.Context) ([]screenrecorder.TrackDescriptor, error) {
	var tracks []screenrecorder.TrackDescriptor
	cfg := s.config

	if cfg.Video.Enabled {
		width, height := cfg.Video.OutputSize()
		proc, err := videoproc.New(videoproc.Config{
			Width:       width,
			Height:      height,
			PixelFormat: cfg.Video.PixelFormat,
			Scaler:      cfg.Video.Scaler,
		})
		if err != nil {
			return nil, err
		}
		s.videoProcessor = proc

		t, err := s.deps.Encoders.OpenVideo(ctx, screenrecorder.VideoEncoderParams{
			TrackID:       screenrecorder.TrackID(len(tracks)),
			Codec:         cfg.Video.Codec,
			Width:         width,
			Height:        height,
			FrameRate:     cfg.Video.FrameRate,
			PixelFormat:   cfg.Video.PixelFormat,
			Quality:       cfg.Video.Quality,
			CustomOptions: cfg.Video.CustomOptions,
		})
		if err != nil {
			return nil, err
		}
		s.video = encoder.NewVideo(t, cfg.Video.QueueSize, s.deliverPacket)
		s.closer.AddWithError(s.video.Close)
		s.videoQueue = queue.NewBounded[*screenrecorder.VideoFrame](cfg.Video.QueueSize)
		tracks = append(tracks, s.video.TrackDescriptor())

		if s.tracker == nil && cfg.Video.CursorOverlay && s.deps.CursorSource != nil {
			s.tracker = cursor.NewTracker(cfg.Video.ScreenSize())
		}
	}

	if sources := cfg.Audio.EnabledSources(); len(sources) > 0 {
		procSources := map[screenrecorder.AudioSourceID]audioproc.SourceConfig{}
		for _, src := range sources {
			procSources[src.ID] = audioproc.SourceConfig{Kind: src.Kind, GainDB: src.GainDB}
		}
		proc, err := audioproc.New(audioproc.Config{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			NoiseReduction: cfg.Audio.NoiseReduction,
			Sources:        procSources,
		})
		if err != nil {
			return nil, err
		}
		s.audioProcessor = proc
		s.aligner = audioproc.NewAligner(cfg.Audio.WindowDuration, int(cfg.Audio.Channels))
		for _, src := range sources {
			s.aligner.AddSource(src.ID, src.Kind)
		}

		t, err := s.deps.Encoders.OpenAudio(ctx, screenrecorder.AudioEncoderParams{
			TrackID:       screenrecorder.TrackID(len(tracks)),
			Codec:         cfg.Audio.Codec,
			SampleRate:    cfg.Audio.SampleRate,
			Channels:      cfg.Audio.Channels,
			Quality:       cfg.Audio.Quality,
			CustomOptions: cfg.Audio.CustomOptions,
		})
		if err != nil {
			return nil, err
		}
		s.audio = encoder.NewAudio(t, cfg.Audio.QueueSize, cfg.Audio.PushTimeout, s.deliverPacket)
		s.closer.AddWithError(s.audio.Close)
		s.audioQueue = queue.NewBounded[audioItem](cfg.Audio.QueueSize)
		tracks = append(tracks, s.audio.TrackDescriptor())
	}
	return tracks, nil
}

func (s *Session) spawnWorkers(ctx context.Context) {
	s.captureWorkers.name = "capture"
	s.processWorkers.name = "processing"
	s.encodeWorkers.name = "encoding"

	if s.video != nil {
		s.captureWorkers.spawn(s, "video-capture", func() error { return s.captureVideo(s.captureCtx) })
		s.processWorkers.spawn(s, "video-processing", func() error { return s.processVideo(s.pipelineCtx) })
		s.encodeWorkers.spawn(s, "video-encoding", func() error { return s.video.Serve(s.pipelineCtx) })
	}
	if s.audio != nil {
		for _, src := range s.config.Audio.EnabledSources() {
			src := src
			s.captureWorkers.spawn(s, "audio-capture:"+string(src.ID), func() error {
				return s.captureAudio(s.captureCtx, src, s.deps.AudioSources[src.ID])
			})
		}
		s.processWorkers.spawn(s, "audio-processing", func() error { return s.processAudio(s.pipelineCtx) })
		s.encodeWorkers.spawn(s, "audio-encoding", func() error { return s.audio.Serve(s.pipelineCtx) })
	}
	if s.tracker != nil && s.deps.CursorSource != nil {
		s.captureWorkers.spawn(s, "cursor", func() error { return s.trackCursor(s.captureCtx) })
	}

	observability.Go(ctx, func(ctx context.Context) {
		defer close(s.muxDone)
		s.muxLoop(s.pipelineCtx)
	})
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Config() screenrecorder.RecorderConfig {
	return s.config
}

func (s *Session) State() screenrecorder.SessionState {
	ctx := context.Background()
	return xsync.DoR1(ctx, &s.locker, func() screenrecorder.SessionState {
		return s.state
	})
}

func (s *Session) setState(
	ctx context.Context,
	to screenrecorder.SessionState,
	cause error,
) {
	from := xsync.DoR1(ctx, &s.locker, func() screenrecorder.SessionState {
		from := s.state
		s.state = to
		return from
	})
	if from == to {
		return
	}
	logger.Debugf(ctx, "session %s: %s -> %s (%v)", s.id, from, to, cause)
	s.observer.OnStateChange(from, to, cause)
}

// Pause suspends capturing; encoders and the muxer stay open and the
// paused interval is excluded from the recorded timeline.
func (s *Session) Pause(ctx context.Context) error {
	err := xsync.DoR1(ctx, &s.locker, func() error {
		if s.state != screenrecorder.SessionStateRecording {
			return fmt.Errorf("unable to pause in state %s: %w", s.state, screenrecorder.ErrInvalidState)
		}
		s.clock.Pause()
		s.resumeCh = make(chan struct{})
		s.state = screenrecorder.SessionStatePaused
		return nil
	})
	if err != nil {
		return err
	}
	s.observer.OnStateChange(screenrecorder.SessionStateRecording, screenrecorder.SessionStatePaused, nil)
	return nil
}

func (s *Session) Resume(ctx context.Context) error {
	err := xsync.DoR1(ctx, &s.locker, func() error {
		if s.state != screenrecorder.SessionStatePaused {
			return fmt.Errorf("unable to resume in state %s: %w", s.state, screenrecorder.ErrInvalidState)
		}
		s.clock.Resume()
		close(s.resumeCh)
		s.state = screenrecorder.SessionStateRecording
		return nil
	})
	if err != nil {
		return err
	}
	s.observer.OnStateChange(screenrecorder.SessionStatePaused, screenrecorder.SessionStateRecording, nil)
	return nil
}

// waitUnpaused blocks while the session is paused; it returns false if ctx is done.
func (s *Session) waitUnpaused(ctx context.Context) bool {
	resumeCh := xsync.DoR1(ctx, &s.locker, func() chan struct{} {
		return s.resumeCh
	})
	select {
	case <-ctx.Done():
		return false
	case <-resumeCh:
		return true
	}
}

// Status returns a snapshot of the counters.
func (s *Session) Status() screenrecorder.Status {
	st := screenrecorder.Status{
		SessionID:            s.id,
		State:                s.State(),
		Elapsed:              s.clock.Elapsed(),
		VideoFramesCaptured:  s.Stats.VideoFramesCaptured.Load(),
		VideoFramesDropped:   s.Stats.VideoFramesDropped.Load(),
		AudioBlocksCaptured:  s.Stats.AudioBlocksCaptured.Load(),
		AudioSilenceInserted: time.Duration(s.Stats.AudioSilence.Load()),
		AudioLevelDB:         audioproc.SilenceDB,
		PacketsMuxed:         s.Stats.PacketsMuxed.Load(),
		QueueDepths:          map[string]int{},
	}
	if s.video != nil {
		videoStats := s.video.Stats.Convert()
		st.VideoFramesDropped += videoStats.Dropped
		st.VideoFramesEncoded = videoStats.Encoded
		st.QueueDepths["video_capture"] = s.videoQueue.Len()
		st.QueueDepths["video_encoder"] = s.video.QueueLen()
	}
	if s.audio != nil {
		st.AudioSilenceInserted += time.Duration(s.aligner.Stats.SilenceInserted.Load())
		st.AudioDuration = screenrecorder.SamplesDuration(int(s.Stats.AudioSamplesEncoded.Load()), s.config.Audio.SampleRate)
		st.AudioLevelDB = s.Stats.audioLevelDB()
		st.QueueDepths["audio_capture"] = s.audioQueue.Len()
		st.QueueDepths["audio_encoder"] = s.audio.QueueLen()
	}
	if s.muxCh != nil {
		st.QueueDepths["mux"] = len(s.muxCh)
	}
	return st
}

// supervise reports the status at the configured cadence and stops the
// session on a fatal error.
func (s *Session) supervise(ctx context.Context) {
	logger.Debugf(ctx, "supervise")
	defer func() { logger.Debugf(ctx, "/supervise") }()

	t := time.NewTicker(s.config.StatusInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.failedCh:
			logger.Errorf(ctx, "session %s failed: %v", s.id, s.fatalErr)
			s.Stop(ctx)
			return
		case <-t.C:
			s.observer.OnStatus(s.Status())
		}
	}
}

// fail records the first fatal error and makes the supervisor stop the session.
func (s *Session) fail(ctx context.Context, err error) {
	s.failOnce.Do(func() {
		logger.Errorf(ctx, "fatal: %v", err)
		s.fatalErr = err
		close(s.failedCh)
	})
}

func (s *Session) failure() error {
	select {
	case <-s.failedCh:
		return s.fatalErr
	default:
		return nil
	}
}

// Wait blocks until the session is stopped (by Stop or by a fatal error)
// and returns the same result as Stop.
func (s *Session) Wait(ctx context.Context) (*screenrecorder.Summary, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return s.summary, s.summaryErr
	}
}
