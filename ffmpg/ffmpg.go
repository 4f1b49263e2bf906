package ffmpg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"jukebox/playback"

	"github.com/disgoorg/ffmpeg-audio"
)

const (
	// Exec is the default path to the ffmpeg executable
	Exec       = "ffmpeg"
	BufferSize = 65307

	DefaultStallTimeout = 10 * time.Second
	DefaultCloseGrace   = 2 * time.Second
)

// Config configures the decoder processes started by an Opener.
type Config struct {
	Exec         string
	StallTimeout time.Duration // no bytes for this long fails the track
	CloseGrace   time.Duration // time between SIGTERM and SIGKILL
}

// Opener starts one ffmpeg process per track and exposes its output as
// fixed-size frames.
type Opener struct {
	exec         string
	channels     int
	sampleRate   int
	bufferSize   int
	stallTimeout time.Duration
	closeGrace   time.Duration
	logger       *slog.Logger
}

var _ playback.SourceOpener = (*Opener)(nil)

func NewOpener(cfg Config, opts ...ffmpeg.ConfigOpt) *Opener {
	fcfg := ffmpeg.DefaultConfig()
	fcfg.Apply(append([]ffmpeg.ConfigOpt{
		ffmpeg.WithChannels(playback.Channels),
		ffmpeg.WithSampleRate(playback.SampleRate),
	}, opts...))
	if cfg.Exec != "" {
		fcfg.Exec = cfg.Exec
	}
	if fcfg.Exec == "" {
		fcfg.Exec = Exec
	}

	o := &Opener{
		exec:         fcfg.Exec,
		channels:     fcfg.Channels,
		sampleRate:   fcfg.SampleRate,
		bufferSize:   fcfg.BufferSize,
		stallTimeout: cfg.StallTimeout,
		closeGrace:   cfg.CloseGrace,
		logger:       slog.With("component", "ffmpeg"),
	}
	if o.bufferSize <= 0 {
		o.bufferSize = BufferSize
	}
	if o.stallTimeout <= 0 {
		o.stallTimeout = DefaultStallTimeout
	}
	if o.closeGrace <= 0 {
		o.closeGrace = DefaultCloseGrace
	}
	return o
}

func (o *Opener) args(locator string) []string {
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", locator,
		"-vn",
		"-ac", strconv.Itoa(o.channels),
		"-ar", strconv.Itoa(o.sampleRate),
		"-loglevel", "warning",
		"-f", "s16le",
		"pipe:1",
	}
}

// Open spawns the decoder for locator. ctx only bounds the spawn itself; the
// process lives until the returned source is closed.
func (o *Opener) Open(ctx context.Context, locator string) (playback.FrameSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, &playback.PipelineError{Kind: playback.PipelineOpenFailed, Err: err}
	}

	cmd := exec.Command(o.exec, o.args(locator)...)
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &playback.PipelineError{Kind: playback.PipelineOpenFailed, Err: err}
	}
	stderr := newTail(stderrTailSize)
	cmd.Stderr = stderr

	if err = cmd.Start(); err != nil {
		return nil, &playback.PipelineError{
			Kind: playback.PipelineOpenFailed,
			Err:  fmt.Errorf("failed to start %s: %w", o.exec, err),
		}
	}

	o.logger.Debug("Started decoder", slog.Int("pid", cmd.Process.Pid))
	return newSource(pipe, cmdProcess{cmd: cmd}, stderr, sourceOptions{
		bufferSize:   o.bufferSize,
		stallTimeout: o.stallTimeout,
		closeGrace:   o.closeGrace,
		logger:       o.logger.With(slog.Int("pid", cmd.Process.Pid)),
	}), nil
}

type cmdProcess struct {
	cmd *exec.Cmd
}

func (p cmdProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p cmdProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p cmdProcess) Wait() error {
	return p.cmd.Wait()
}
