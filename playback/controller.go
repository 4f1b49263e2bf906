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

// Config tunes the controller. Start from DefaultConfig; zero durations and
// counts fall back to the defaults, while DefaultVolume is taken as given
// (0 is a valid startup volume) unless it is outside 0..100.
type Config struct {
	DefaultVolume    int
	ReadAhead        int           // frames buffered ahead of the clock
	FrameDuration    time.Duration // delivery clock period
	SinkFailureLimit int           // consecutive send failures before the track fails
	OpenTimeout      time.Duration
	EventBuffer      int
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		DefaultVolume:    100,
		ReadAhead:        50,
		FrameDuration:    FrameDuration,
		SinkFailureLimit: 5,
		OpenTimeout:      10 * time.Second,
		EventBuffer:      64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultVolume < 0 || c.DefaultVolume > 100 {
		c.DefaultVolume = d.DefaultVolume
	}
	if c.ReadAhead <= 0 {
		c.ReadAhead = d.ReadAhead
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = d.FrameDuration
	}
	if c.SinkFailureLimit <= 0 {
		c.SinkFailureLimit = d.SinkFailureLimit
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// resolution is one submitted URL waiting for the resolver.
type resolution struct {
	id        uuid.UUID
	req       Request
	cancel    context.CancelFunc
	started   bool
	cancelled bool
}

type resolved struct {
	r     *resolution
	track *Track
	err   error
}

type teardownDone struct {
	p   *pipeline
	err error
}

// Controller owns the queue, the current track and the playback state. All
// of that state is touched by the Run loop only; everything else talks to it
// through Submit, Snapshot and Events.
type Controller struct {
	cfg      Config
	resolver Resolver
	opener   SourceOpener
	sink     FrameSink
	logger   *slog.Logger

	requests chan Request
	queries  chan chan Snapshot
	internal chan any
	events   chan Event
	stopped  chan struct{}
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
	volume   atomic.Int32

	runCtx context.Context

	state       State
	queue       *Queue
	current     *Track
	pipeline    *pipeline
	resolutions []*resolution
	loading     *resolution

	afterTeardown func()
	forceClose    context.CancelFunc
	deferred      []Request
	finished      bool
}

// NewController creates a controller. Run must be called before requests are
// processed.
func NewController(cfg Config, resolver Resolver, opener SourceOpener, sink FrameSink) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:      cfg,
		resolver: resolver,
		opener:   opener,
		sink:     sink,
		logger:   slog.With("component", "controller"),
		requests: make(chan Request, 32),
		queries:  make(chan chan Snapshot),
		internal: make(chan any),
		events:   make(chan Event, cfg.EventBuffer),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateIdle,
		queue:    NewQueue(),
	}
	c.volume.Store(int32(cfg.DefaultVolume))
	return c
}

// Submit hands a request to the loop.
func (c *Controller) Submit(ctx context.Context, req Request) error {
	select {
	case <-c.stopped:
		return ErrControllerClosed
	default:
	}
	select {
	case c.requests <- req:
		return nil
	case <-c.stopped:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state as seen by the loop.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case c.queries <- reply:
	case <-c.stopped:
		return Snapshot{}, ErrControllerClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Events returns the outcome stream. It is closed when Run returns.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Done is closed once Run has returned and every source is closed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run processes requests until ctx is cancelled or a quit request has been
// carried out.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = ctx

	defer close(c.done)
	defer close(c.events)

	c.logger.Info("Controller started", slog.Int("volume", int(c.volume.Load())))

	for !c.finished {
		select {
		case <-ctx.Done():
			c.logger.Info("Controller shutting down")
			c.shutdown()
			return nil
		case req := <-c.requests:
			c.handle(req)
		case reply := <-c.queries:
			reply <- c.snapshot()
		case msg := <-c.internal:
			c.handleInternal(msg)
		}
	}

	c.logger.Info("Controller finished")
	c.shutdown()
	return nil
}

// post delivers a message from a helper goroutine to the loop.
func (c *Controller) post(msg any) {
	select {
	case c.internal <- msg:
	case <-c.stopped:
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("Event buffer full, dropping event", slog.String("kind", ev.Kind.String()))
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("State change", slog.String("from", c.state.String()), slog.String("to", s.String()))
	c.state = s
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		State:   c.state,
		Queue:   c.queue.PeekAll(),
		Pending: len(c.resolutions),
		Volume:  int(c.volume.Load()),
	}
	if c.current != nil {
		t := *c.current
		s.Current = &t
	}
	if c.pipeline != nil {
		s.Elapsed = c.pipeline.Elapsed()
	}
	return s
}

func (c *Controller) handle(req Request) {
	c.logger.Debug("Handling request",
		slog.String("kind", req.Kind.String()),
		slog.String("state", c.state.String()),
		slog.String("from", req.From.Name))

	if c.state == StateStopping {
		if req.Kind == RequestQuit {
			c.quitDuringTeardown(req)
			return
		}
		c.deferred = append(c.deferred, req)
		return
	}

	switch req.Kind {
	case RequestPlay, RequestPlayNext:
		c.play(req)
	case RequestPause:
		c.pause(req)
	case RequestResume:
		c.resume(req)
	case RequestSkip:
		c.skip(req)
	case RequestStop:
		c.stop(req)
	case RequestSetVolume:
		c.setVolume(req)
	case RequestGetVolume:
		c.emit(Event{Kind: EventVolume, To: &req.From, Volume: int(c.volume.Load())})
	case RequestInfo:
		s := c.snapshot()
		c.emit(Event{Kind: EventInfo, To: &req.From, Snapshot: &s})
	case RequestHelp:
		c.emit(Event{Kind: EventHelp, To: &req.From})
	case RequestQuit:
		c.quit(req)
	}
}

func (c *Controller) handleInternal(msg any) {
	switch m := msg.(type) {
	case resolved:
		c.onResolved(m)
	case pipelineEnded:
		c.onPipelineEnded(m)
	case teardownDone:
		c.onTeardownDone(m)
	}
}

func (c *Controller) play(req Request) {
	r := &resolution{id: uuid.New(), req: req}
	c.resolutions = append(c.resolutions, r)
	c.logger.Info("Resolving",
		slog.String("url", req.URL),
		slog.String("id", r.id.String()),
		slog.Int("pending", len(c.resolutions)))

	if c.state == StateIdle {
		c.loading = r
		c.setState(StateLoading)
	}
	c.startNextResolution()
}

// startNextResolution runs the head of the pending list if it is not running
// yet. Resolutions run one at a time so results arrive in submission order.
func (c *Controller) startNextResolution() {
	if len(c.resolutions) == 0 {
		return
	}
	r := c.resolutions[0]
	if r.started {
		return
	}
	r.started = true

	ctx, cancel := context.WithCancel(c.runCtx)
	r.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		track, err := c.resolver.Resolve(ctx, r.req.URL, r.req.From)
		c.post(resolved{r: r, track: track, err: err})
	}()
}

func (c *Controller) cancelResolution(r *resolution) {
	r.cancelled = true
	if r.cancel != nil {
		r.cancel()
	}
	for i, p := range c.resolutions {
		if p == r {
			c.resolutions = append(c.resolutions[:i], c.resolutions[i+1:]...)
			break
		}
	}
	if c.loading == r {
		c.loading = nil
	}
	c.startNextResolution()
}

func (c *Controller) cancelAllResolutions() int {
	n := len(c.resolutions)
	for _, r := range c.resolutions {
		r.cancelled = true
		if r.cancel != nil {
			r.cancel()
		}
	}
	c.resolutions = nil
	c.loading = nil
	return n
}

func (c *Controller) onResolved(m resolved) {
	r := m.r
	if r.cancelled {
		c.logger.Debug("Discarding stale resolution", slog.String("id", r.id.String()))
		return
	}
	r.cancel()

	for i, p := range c.resolutions {
		if p == r {
			c.resolutions = append(c.resolutions[:i], c.resolutions[i+1:]...)
			break
		}
	}
	isLoading := c.loading == r
	if isLoading {
		c.loading = nil
	}

	if m.err != nil {
		c.logger.Warn("Resolution failed", slog.String("url", r.req.URL), slog.String("error", m.err.Error()))
		c.emit(Event{Kind: EventError, To: &r.req.From, URL: r.req.URL, Err: m.err})
		if isLoading {
			c.advance(false)
		}
		c.startNextResolution()
		return
	}

	track := *m.track
	track.URL = r.req.URL
	track.Requester = r.req.From

	switch {
	case isLoading:
		if !c.open(track) {
			c.advance(false)
		}
	case r.req.Kind == RequestPlayNext:
		c.queue.EnqueueNext(track)
		c.emit(Event{Kind: EventQueued, To: &r.req.From, Track: &track, Position: 1})
	default:
		pos := c.queue.Enqueue(track)
		c.emit(Event{Kind: EventQueued, To: &r.req.From, Track: &track, Position: pos})
	}
	c.startNextResolution()
}

// open starts the pipeline for a track. It must only be called with no
// pipeline in place.
func (c *Controller) open(t Track) bool {
	if c.pipeline != nil {
		c.logger.Error("Refusing to open a second source", slog.String("track", t.DisplayTitle()))
		return false
	}
	c.setState(StateLoading)

	ctx, cancel := context.WithTimeout(c.runCtx, c.cfg.OpenTimeout)
	source, err := c.opener.Open(ctx, t.Locator)
	cancel()
	if err != nil {
		var pe *PipelineError
		if !errors.As(err, &pe) {
			err = &PipelineError{Kind: PipelineOpenFailed, Err: err}
		}
		c.logger.Error("Failed to open source", slog.String("track", t.DisplayTitle()), slog.String("error", err.Error()))
		c.emit(Event{Kind: EventTrackFailed, To: &t.Requester, Track: &t, Err: err})
		return false
	}

	c.current = &t
	c.pipeline = c.startPipeline(t, source)
	c.setState(StatePlaying)
	c.logger.Info("Now playing", slog.String("track", t.DisplayTitle()), slog.String("url", t.URL))
	c.emit(Event{Kind: EventNowPlaying, To: &t.Requester, Track: &t})
	return true
}

// advance moves to the next thing to play once the pipeline is gone.
func (c *Controller) advance(announceEnd bool) {
	for {
		t, ok := c.queue.PopFront()
		if !ok {
			break
		}
		if c.open(t) {
			return
		}
	}

	c.current = nil
	if len(c.resolutions) > 0 {
		c.loading = c.resolutions[0]
		c.setState(StateLoading)
		return
	}

	c.setState(StateIdle)
	if announceEnd {
		c.emit(Event{Kind: EventQueueEnded})
	}
}

func (c *Controller) pause(req Request) {
	if c.state != StatePlaying {
		c.emit(Event{Kind: EventError, To: &req.From, Err: ErrNotPlaying})
		return
	}
	c.pipeline.setPaused(true)
	c.setState(StatePaused)
	c.emit(Event{Kind: EventPaused, To: &req.From, Track: c.current})
}

func (c *Controller) resume(req Request) {
	if c.state != StatePaused {
		c.emit(Event{Kind: EventError, To: &req.From, Err: ErrNotPaused})
		return
	}
	c.pipeline.setPaused(false)
	c.setState(StatePlaying)
	c.emit(Event{Kind: EventResumed, To: &req.From, Track: c.current})
}

func (c *Controller) skip(req Request) {
	switch {
	case c.state.IsActive():
		c.emit(Event{Kind: EventSkipped, To: &req.From, Track: c.current})
		c.beginTeardown(func() { c.advance(true) })
	case c.state == StateLoading && c.loading != nil:
		r := c.loading
		c.logger.Info("Skipping track still resolving", slog.String("url", r.req.URL))
		c.emit(Event{Kind: EventSkipped, To: &req.From, URL: r.req.URL})
		c.cancelResolution(r)
		c.advance(false)
	default:
		c.emit(Event{Kind: EventError, To: &req.From, Err: ErrNotPlaying})
	}
}

func (c *Controller) stop(req Request) {
	if c.state == StateIdle && len(c.resolutions) == 0 {
		c.emit(Event{Kind: EventError, To: &req.From, Err: ErrNotPlaying})
		return
	}
	dropped := c.queue.Clear()
	dropped += c.cancelAllResolutions()
	c.logger.Info("Stopping playback", slog.Int("dropped", dropped))
	c.emit(Event{Kind: EventStopped, To: &req.From, Track: c.current, Dropped: dropped})

	if c.pipeline != nil {
		c.beginTeardown(func() { c.setState(StateIdle) })
		return
	}
	c.current = nil
	c.setState(StateIdle)
}

func (c *Controller) setVolume(req Request) {
	if req.Volume < 0 || req.Volume > 100 {
		c.emit(Event{Kind: EventError, To: &req.From, Err: ErrVolumeRange})
		return
	}
	c.volume.Store(int32(req.Volume))
	c.logger.Info("Volume changed", slog.Int("volume", req.Volume))
	c.emit(Event{Kind: EventVolume, To: &req.From, Volume: req.Volume})
}

func (c *Controller) quit(req Request) {
	c.queue.Clear()
	c.cancelAllResolutions()
	c.emit(Event{Kind: EventQuit, To: &req.From})
	if c.pipeline != nil {
		c.beginTeardown(c.finish)
		return
	}
	c.finish()
}

// quitDuringTeardown escalates the close in flight and makes quit the only
// thing left to do.
func (c *Controller) quitDuringTeardown(req Request) {
	c.logger.Warn("Quit during teardown, forcing source close")
	c.queue.Clear()
	c.cancelAllResolutions()
	c.deferred = nil
	c.afterTeardown = c.finish
	if c.forceClose != nil {
		c.forceClose()
	}
	c.emit(Event{Kind: EventQuit, To: &req.From})
}

func (c *Controller) finish() {
	c.current = nil
	c.setState(StateIdle)
	c.finished = true
}

func (c *Controller) onPipelineEnded(m pipelineEnded) {
	if c.pipeline != m.p || c.state == StateStopping {
		return
	}
	t := m.p.track
	if errors.Is(m.err, io.EOF) {
		c.logger.Info("Track finished", slog.String("track", t.DisplayTitle()), slog.Duration("elapsed", m.p.Elapsed()))
	} else {
		c.logger.Error("Track failed", slog.String("track", t.DisplayTitle()), slog.String("error", m.err.Error()))
		c.emit(Event{Kind: EventTrackFailed, To: &t.Requester, Track: &t, Err: m.err})
	}
	c.beginTeardown(func() { c.advance(true) })
}

// beginTeardown stops the current pipeline and closes its source off the
// loop. Requests arriving before the close completes are replayed after it.
func (c *Controller) beginTeardown(then func()) {
	p := c.pipeline
	c.afterTeardown = then
	c.setState(StateStopping)
	p.cancel()

	closeCtx, force := context.WithCancel(context.Background())
	c.forceClose = force
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer force()
		<-p.done
		err := p.source.Close(closeCtx)
		if eos, ok := c.sink.(EndOfStreamer); ok {
			eos.EndOfStream(closeCtx)
		}
		c.post(teardownDone{p: p, err: err})
	}()
}

func (c *Controller) onTeardownDone(m teardownDone) {
	if m.err != nil {
		c.logger.Warn("Source close reported an error", slog.String("track", m.p.track.DisplayTitle()), slog.String("error", m.err.Error()))
	}
	c.pipeline = nil
	c.current = nil
	c.forceClose = nil
	c.setState(StateIdle)

	next := c.afterTeardown
	c.afterTeardown = nil
	if next != nil {
		next()
	}

	deferred := c.deferred
	c.deferred = nil
	for _, req := range deferred {
		if c.finished {
			return
		}
		c.handle(req)
	}
}

// shutdown tears everything down synchronously when the loop exits.
func (c *Controller) shutdown() {
	c.cancelAllResolutions()
	c.queue.Clear()
	close(c.stopped)

	if c.forceClose != nil {
		c.forceClose()
	}
	if c.pipeline != nil && c.state != StateStopping {
		p := c.pipeline
		p.cancel()
		<-p.done
		if err := p.source.Close(context.Background()); err != nil {
			c.logger.Warn("Source close reported an error", slog.String("error", err.Error()))
		}
	}

	c.wg.Wait()
	c.pipeline = nil
	c.current = nil
	c.state = StateIdle
}
