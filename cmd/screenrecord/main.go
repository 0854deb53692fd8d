package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/codec"
	"github.com/xaionaro-go/screenrecorder/control"
	"github.com/xaionaro-go/screenrecorder/muxer"
	"github.com/xaionaro-go/screenrecorder/muxer/flv"
	"github.com/xaionaro-go/screenrecorder/muxer/rtmp"
	"github.com/xaionaro-go/screenrecorder/observer/wsfeed"
	"github.com/xaionaro-go/screenrecorder/remux"
	"github.com/xaionaro-go/screenrecorder/session"
	"github.com/xaionaro-go/screenrecorder/source/synthetic"
	"github.com/xaionaro-go/secret"
	"github.com/xaionaro-go/xcontext"
	"golang.org/x/sync/errgroup"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [options] [<output path>]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	configPath := pflag.String("config", "", "path to a YAML config")
	output := pflag.StringP("output", "o", "", "the output FLV file (overrides the config)")
	duration := pflag.Duration("duration", 0, "stop after this recording time; zero means until SIGINT/SIGTERM or a remote Stop")
	screenWidth := pflag.Uint32("screen-width", 1280, "the width of the captured screen")
	screenHeight := pflag.Uint32("screen-height", 720, "the height of the captured screen")
	controlAddr := pflag.String("control-listen-addr", "", "an address to listen for the gRPC control service")
	statusAddr := pflag.String("status-listen-addr", "", "an address to serve the websocket status feed at /status")
	pushURL := pflag.String("push-url", "", "an RTMP URL to also stream the recording to")
	pushKey := pflag.String("push-key", "", "the stream key for --push-url")
	remuxMP4 := pflag.String("remux-mp4", "", "convert the finalized recording into this MP4 file using ffmpeg")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()
	if len(pflag.Args()) > 1 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	cfg := screenrecorder.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = screenrecorder.LoadConfig(*configPath)
		if err != nil {
			l.Fatal(err)
		}
	}
	switch {
	case *output != "":
		cfg.OutputPath = *output
	case pflag.NArg() == 1:
		cfg.OutputPath = pflag.Arg(0)
	}
	if cfg.Video.ScreenWidth == 0 || cfg.Video.ScreenHeight == 0 {
		cfg.Video.ScreenWidth, cfg.Video.ScreenHeight = *screenWidth, *screenHeight
	}
	if len(cfg.Audio.Sources) == 0 {
		cfg.Audio.Sources = []screenrecorder.AudioSourceConfig{{
			ID:      "microphone",
			Kind:    screenrecorder.AudioSourceKindMicrophone,
			Enabled: true,
		}}
	}
	if *pushURL != "" {
		cfg.PushTargets = append(cfg.PushTargets, screenrecorder.PushTarget{URL: *pushURL, StreamKey: *pushKey})
	}

	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelFn()

	var hub *wsfeed.Hub
	opts := []session.Option{
		session.WithObserver(screenrecorder.ObserverFunc(printStatus)),
	}
	if *statusAddr != "" {
		hub = wsfeed.NewHub(ctx)
		opts = append(opts, session.WithObserver(hub))
	}

	l.Debugf("starting the recording into '%s'...", cfg.OutputPath)
	s, err := session.Start(ctx, cfg, dependencies(cfg), opts...)
	if err != nil {
		l.Fatal(err)
	}

	serveCtx, serveCancelFn := context.WithCancel(ctx)
	var servers errgroup.Group
	if *controlAddr != "" {
		listener, err := net.Listen("tcp", *controlAddr)
		if err != nil {
			l.Fatal(err)
		}
		srv := control.NewServer(s)
		servers.Go(func() error {
			return srv.Serve(serveCtx, listener)
		})
	}
	if hub != nil {
		mux := http.NewServeMux()
		mux.Handle("/status", hub)
		httpSrv := &http.Server{Addr: *statusAddr, Handler: mux}
		servers.Go(func() error {
			err := httpSrv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		servers.Go(func() error {
			<-serveCtx.Done()
			_ = hub.Close()
			return httpSrv.Shutdown(context.Background())
		})
	}

	waitCtx := ctx
	if *duration > 0 {
		var waitCancelFn context.CancelFunc
		waitCtx, waitCancelFn = context.WithTimeout(ctx, *duration)
		defer waitCancelFn()
	}
	summary, err := s.Wait(waitCtx)
	if summary == nil {
		l.Debugf("stopping the recording...")
		summary, err = s.Stop(xcontext.DetachDone(ctx))
	}
	serveCancelFn()
	if err := servers.Wait(); err != nil {
		logger.Errorf(ctx, "a server failed: %v", err)
	}

	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Printf("%s\n", b)
	if err != nil {
		logger.Errorf(ctx, "the recording failed: %v", err)
		belt.Flush(ctx)
		os.Exit(1)
	}

	if *remuxMP4 != "" && summary.OutputValid {
		if err := remux.ToMP4(context.Background(), cfg.OutputPath, *remuxMP4, remux.Options{}); err != nil {
			l.Fatal(err)
		}
	}
}

func dependencies(cfg screenrecorder.RecorderConfig) session.Dependencies {
	frames := synthetic.NewFrameSource(cfg.Video.ScreenWidth, cfg.Video.ScreenHeight, cfg.Video.FrameRate)
	frames.Pattern = synthetic.PatternGradient
	if cfg.Video.FrameRate > 0 {
		frames.Pace = time.Second / time.Duration(cfg.Video.FrameRate)
	}

	audioSources := map[screenrecorder.AudioSourceID]screenrecorder.AudioSource{}
	for idx, src := range cfg.Audio.EnabledSources() {
		a := synthetic.NewAudioSource(src.Kind, cfg.Audio.SampleRate, cfg.Audio.Channels)
		a.Frequency = 440 * float64(idx+1)
		a.Paced = true
		audioSources[src.ID] = a
	}

	secondaries := map[string]screenrecorder.MuxerFactory{}
	for idx, t := range cfg.PushTargets {
		secondaries[fmt.Sprintf("push[%d]", idx)] = rtmp.NewFactory(rtmp.Config{
			URL:       t.URL,
			StreamKey: secret.New(t.StreamKey),
		})
	}

	return session.Dependencies{
		FrameSource:  frames,
		AudioSources: audioSources,
		CursorSource: synthetic.NewPositionSource(cfg.Video.ScreenWidth, cfg.Video.ScreenHeight),
		Encoders:     codec.NewFactory(),
		Muxer: &muxer.TeeFactory{
			Primary:     flv.NewFactory(),
			Secondaries: secondaries,
		},
	}
}

func printStatus(st screenrecorder.Status) {
	var depths []string
	for k, v := range st.QueueDepths {
		depths = append(depths, fmt.Sprintf("%s:%d", k, v))
	}
	fmt.Printf(
		"%s %v video c:%d d:%d e:%d audio %v (silence %v) %.1fdB muxed:%d queues[%s]\n",
		st.State, st.Elapsed.Truncate(time.Millisecond),
		st.VideoFramesCaptured, st.VideoFramesDropped, st.VideoFramesEncoded,
		st.AudioDuration.Truncate(time.Millisecond), st.AudioSilenceInserted.Truncate(time.Millisecond),
		st.AudioLevelDB, st.PacketsMuxed, strings.Join(depths, " "),
	)
}
