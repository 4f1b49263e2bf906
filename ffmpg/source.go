package ffmpg

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"jukebox/playback"
)

const (
	frameBytes     = playback.FrameLen * 2
	stderrTailSize = 2048
)

var ErrSourceClosed = errors.New("source closed")

// process is the part of a child process a Source controls.
type process interface {
	Signal(sig os.Signal) error
	Kill() error
	Wait() error
}

type sourceOptions struct {
	bufferSize   int
	stallTimeout time.Duration
	closeGrace   time.Duration
	logger       *slog.Logger
}

type frameResult struct {
	pcm []int16
	err error
}

// Source turns a decoder's s16le stdout into frames. A reader goroutine owns
// the pipe and the single Wait on the process.
type Source struct {
	proc   process
	pipe   io.ReadCloser
	stderr *tail
	opts   sourceOptions

	frames   chan frameResult
	closing  chan struct{}
	exited   chan struct{}
	terminal error

	closeOnce sync.Once
	closeErr  error
}

var _ playback.FrameSource = (*Source)(nil)

func newSource(pipe io.ReadCloser, proc process, stderr *tail, opts sourceOptions) *Source {
	if opts.logger == nil {
		opts.logger = slog.With("component", "ffmpeg")
	}
	if opts.bufferSize <= 0 {
		opts.bufferSize = BufferSize
	}
	s := &Source{
		proc:    proc,
		pipe:    pipe,
		stderr:  stderr,
		opts:    opts,
		frames:  make(chan frameResult),
		closing: make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Source) readLoop() {
	defer close(s.frames)

	reader := bufio.NewReaderSize(s.pipe, s.opts.bufferSize)
	var readErr error
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(reader, buf)
		if n > 0 && (err == nil || errors.Is(err, io.ErrUnexpectedEOF)) {
			// a short final frame is padded with silence
			if !s.send(frameResult{pcm: decodeFrame(buf)}) {
				readErr = ErrSourceClosed
				break
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}

	waitErr := s.proc.Wait()
	close(s.exited)

	select {
	case <-s.closing:
		return
	default:
	}

	switch {
	case errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF):
		if waitErr != nil {
			s.send(frameResult{err: &playback.PipelineError{
				Kind: playback.PipelineDecodeFailed,
				Err:  s.withStderr(waitErr),
			}})
			return
		}
		s.send(frameResult{err: io.EOF})
	default:
		s.send(frameResult{err: &playback.PipelineError{
			Kind: playback.PipelineDecodeFailed,
			Err:  s.withStderr(fmt.Errorf("error reading PCM data: %w", readErr)),
		}})
	}
}

func (s *Source) send(res frameResult) bool {
	select {
	case s.frames <- res:
		return true
	case <-s.closing:
		return false
	}
}

func (s *Source) withStderr(err error) error {
	if s.stderr == nil {
		return err
	}
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

func decodeFrame(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// NextFrame returns the next frame, io.EOF after a clean end of stream, or a
// PipelineError. Once a terminal error is returned every later call returns it
// too. NextFrame must not be called concurrently.
func (s *Source) NextFrame(ctx context.Context) ([]int16, error) {
	if s.terminal != nil {
		return nil, s.terminal
	}

	timer := time.NewTimer(s.opts.stallTimeout)
	defer timer.Stop()

	select {
	case res, ok := <-s.frames:
		if !ok {
			s.terminal = ErrSourceClosed
			return nil, s.terminal
		}
		if res.err != nil {
			s.terminal = res.err
			return nil, res.err
		}
		return res.pcm, nil
	case <-timer.C:
		s.terminal = &playback.PipelineError{
			Kind: playback.PipelineStalled,
			Err:  fmt.Errorf("no audio for %s", s.opts.stallTimeout),
		}
		return nil, s.terminal
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the decoder: it closes the pipe, sends SIGTERM and kills the
// process if it is still alive after the grace period or once ctx is
// cancelled. Close is idempotent.
func (s *Source) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.pipe.Close()

		select {
		case <-s.exited:
			return
		default:
		}

		if err := s.proc.Signal(syscall.SIGTERM); err != nil {
			s.opts.logger.Debug("Failed to signal decoder", slog.String("error", err.Error()))
		}

		timer := time.NewTimer(s.opts.closeGrace)
		defer timer.Stop()

		select {
		case <-s.exited:
			return
		case <-timer.C:
			s.kill("grace period elapsed")
		case <-ctx.Done():
			s.kill("close cancelled")
		}
	})
	return s.closeErr
}

func (s *Source) kill(reason string) {
	s.opts.logger.Warn("Killing decoder", slog.String("reason", reason))
	if err := s.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.closeErr = fmt.Errorf("failed to kill decoder: %w", err)
		return
	}
	<-s.exited
}

// tail keeps the last bytes written to it.
type tail struct {
	mu   sync.Mutex
	size int
	buf  []byte
}

func newTail(size int) *tail {
	return &tail{size: size}
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.size; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
