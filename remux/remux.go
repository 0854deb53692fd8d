// Package remux converts a finalized recording into MP4 using ffmpeg.
package remux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	child_process_manager "github.com/AgustinSRG/go-child-process-manager"
	"github.com/facebookincubator/go-belt/tool/logger"
)

const partSuffix = ".part"

type Options struct {
	// FFmpegPath is the ffmpeg binary; looked up in PATH if empty.
	FFmpegPath string

	// VideoCodec is "copy" by default.
	VideoCodec string

	// AudioCodec is "aac" by default, since MP4 does not carry raw PCM well.
	AudioCodec string

	ExtraArgs []string
}

func (opts Options) withDefaults() Options {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.VideoCodec == "" {
		opts.VideoCodec = "copy"
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = "aac"
	}
	return opts
}

// BuildArgs returns the ffmpeg arguments remuxing input into an MP4 at output.
func BuildArgs(input, output string, opts Options) []string {
	opts = opts.withDefaults()
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-map", "0",
		"-c:v", opts.VideoCodec,
		"-c:a", opts.AudioCodec,
		"-movflags", "+faststart",
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, "-f", "mp4", output)
}

var (
	initOnce sync.Once
	initErr  error
)

func initChildProcessManager() error {
	initOnce.Do(func() {
		initErr = child_process_manager.InitializeChildProcessManager()
	})
	return initErr
}

// ToMP4 runs ffmpeg to remux input into output. The output appears only if
// ffmpeg succeeded; ffmpeg is killed if ctx is cancelled or if this process dies.
func ToMP4(
	ctx context.Context,
	input string,
	output string,
	opts Options,
) (_err error) {
	logger.Debugf(ctx, "ToMP4(%s, %s)", input, output)
	defer func() { logger.Debugf(ctx, "/ToMP4(%s, %s): %v", input, output, _err) }()

	if input == output {
		return fmt.Errorf("the input and the output are the same file '%s'", input)
	}
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("unable to access the input: %w", err)
	}
	if err := initChildProcessManager(); err != nil {
		return fmt.Errorf("unable to initialize the child process manager: %w", err)
	}

	opts = opts.withDefaults()
	partPath := output + partSuffix
	args := BuildArgs(input, partPath, opts)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, opts.FFmpegPath, args...)
	cmd.Stderr = &stderr
	child_process_manager.ConfigureCommand(cmd)

	logger.Debugf(ctx, "running %s %s", opts.FFmpegPath, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start '%s': %w", opts.FFmpegPath, err)
	}
	if err := child_process_manager.AddChildProcess(cmd.Process); err != nil {
		logger.Warnf(ctx, "unable to bind ffmpeg (pid %d) to this process: %v", cmd.Process.Pid, err)
	}

	if err := cmd.Wait(); err != nil {
		_ = os.Remove(partPath)
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(partPath, output); err != nil {
		_ = os.Remove(partPath)
		return fmt.Errorf("unable to rename '%s' to '%s': %w", partPath, output, err)
	}
	return nil
}
