package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// pipeline couples one frame source to the sink for the lifetime of one
// track. A reader goroutine pulls frames ahead into a bounded buffer and a
// deliverer goroutine hands them to the sink on the frame clock.
type pipeline struct {
	track         Track
	source        FrameSource
	cancel        context.CancelFunc
	frameDuration time.Duration
	logger        *slog.Logger

	paused atomic.Bool
	wake   chan struct{}
	frames atomic.Int64
	wg     sync.WaitGroup
	done   chan struct{}
}

type pipelineEnded struct {
	p   *pipeline
	err error
}

func (c *Controller) startPipeline(track Track, source FrameSource) *pipeline {
	ctx, cancel := context.WithCancel(c.runCtx)
	id := uuid.New()
	p := &pipeline{
		track:         track,
		source:        source,
		cancel:        cancel,
		frameDuration: c.cfg.FrameDuration,
		logger: c.logger.With(
			slog.String("pipeline", id.String()),
			slog.String("track", track.DisplayTitle())),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	buffered := make(chan []int16, c.cfg.ReadAhead)
	readErr := make(chan error, 1)
	vol := newVolumeStage(&c.volume)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.read(ctx, buffered, readErr)
	}()
	go func() {
		defer p.wg.Done()
		err := p.deliver(ctx, buffered, readErr, c.sink, vol, c.cfg)
		c.post(pipelineEnded{p: p, err: err})
	}()
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	p.logger.Debug("Pipeline started", slog.Int("read_ahead", c.cfg.ReadAhead))

	return p
}

// Elapsed is the playback position measured in delivered frames.
func (p *pipeline) Elapsed() time.Duration {
	return time.Duration(p.frames.Load()) * p.frameDuration
}

func (p *pipeline) setPaused(paused bool) {
	p.paused.Store(paused)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pipeline) read(ctx context.Context, out chan<- []int16, readErr chan<- error) {
	defer close(out)
	for {
		frame, err := p.source.NextFrame(ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			readErr <- ctx.Err()
			return
		}
	}
}

// deliver returns io.EOF when the source is exhausted, the context error on
// teardown, or a PipelineError.
func (p *pipeline) deliver(ctx context.Context, in <-chan []int16, readErr <-chan error, sink FrameSink, vol *volumeStage, cfg Config) error {
	ticker := time.NewTicker(cfg.FrameDuration)
	defer ticker.Stop()

	failures := 0
	for {
		if p.paused.Load() {
			ticker.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.wake:
			}
			ticker.Reset(cfg.FrameDuration)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
			continue
		case <-ticker.C:
		}

		var frame []int16
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
			continue
		case f, ok := <-in:
			if !ok {
				err := <-readErr
				if errors.Is(err, io.EOF) {
					return io.EOF
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var pe *PipelineError
				if !errors.As(err, &pe) {
					err = &PipelineError{Kind: PipelineDecodeFailed, Err: err}
				}
				return err
			}
			frame = f
		}

		if err := sink.SendFrame(ctx, vol.Apply(frame)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			p.logger.Warn("Failed to send frame",
				slog.Int("consecutive", failures),
				slog.String("error", err.Error()))
			if failures >= cfg.SinkFailureLimit {
				return &PipelineError{Kind: PipelineSinkFailed, Err: err}
			}
			continue
		}
		failures = 0
		p.frames.Add(1)
	}
}
