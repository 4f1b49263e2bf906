package playback

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	alice = Requester{ID: "1", Name: "alice", ChannelID: "100", MessageID: "1000"}
	bob   = Requester{ID: "2", Name: "bob", ChannelID: "100", MessageID: "2000"}
)

type resolveResult struct {
	track        *Track
	err          error
	delay        time.Duration
	ignoreCancel bool
}

type fakeResolver struct {
	mu      sync.Mutex
	results map[string]resolveResult
	calls   []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{results: make(map[string]resolveResult)}
}

func (r *fakeResolver) set(url string, res resolveResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[url] = res
}

func (r *fakeResolver) Resolve(ctx context.Context, rawURL string, by Requester) (*Track, error) {
	r.mu.Lock()
	res, ok := r.results[rawURL]
	r.calls = append(r.calls, rawURL)
	r.mu.Unlock()

	if res.delay > 0 {
		if res.ignoreCancel {
			time.Sleep(res.delay)
		} else {
			select {
			case <-time.After(res.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if !ok || (res.track == nil && res.err == nil) {
		return &Track{Locator: rawURL, Title: "title of " + rawURL}, nil
	}
	return res.track, res.err
}

type sourceScript struct {
	frames     int           // frames before the end of the stream
	level      int16         // when non-zero every sample carries this value
	endErr     error         // returned instead of io.EOF
	stall      time.Duration // when set the source stalls after its frames
	closeDelay time.Duration // Close waits this long unless ctx is cancelled
}

type fakeOpener struct {
	mu       sync.Mutex
	scripts  map[string]sourceScript
	openErr  map[string]error
	opened   []string
	closed   []string
	forced   []string
	live     int
	maxLive  int
	sourceID int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		scripts: make(map[string]sourceScript),
		openErr: make(map[string]error),
	}
}

func (o *fakeOpener) script(locator string, s sourceScript) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scripts[locator] = s
}

func (o *fakeOpener) failOpen(locator string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErr[locator] = err
}

func (o *fakeOpener) Open(ctx context.Context, locator string) (FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.openErr[locator]; err != nil {
		return nil, err
	}
	s, ok := o.scripts[locator]
	if !ok {
		s = sourceScript{frames: 100000}
	}
	o.sourceID++
	o.opened = append(o.opened, locator)
	o.live++
	o.maxLive = max(o.maxLive, o.live)
	return &fakeSource{opener: o, id: o.sourceID, locator: locator, script: s}, nil
}

func (o *fakeOpener) counts() (opened, closed, maxLive int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened), len(o.closed), o.maxLive
}

func (o *fakeOpener) closedLocators() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.closed...)
}

type fakeSource struct {
	opener  *fakeOpener
	id      int
	locator string
	script  sourceScript
	sent    int
	once    sync.Once
}

func (s *fakeSource) NextFrame(ctx context.Context) ([]int16, error) {
	if s.sent >= s.script.frames {
		if s.script.stall > 0 {
			select {
			case <-time.After(s.script.stall):
				return nil, &PipelineError{Kind: PipelineStalled, Err: errors.New("no audio")}
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if s.script.endErr != nil {
			return nil, s.script.endErr
		}
		return nil, io.EOF
	}
	s.sent++
	frame := make([]int16, FrameLen)
	for i := 0; i < len(frame); i += 2 {
		if s.script.level != 0 {
			frame[i], frame[i+1] = s.script.level, s.script.level
			continue
		}
		frame[i] = int16(s.sent)
		frame[i+1] = int16(s.id)
	}
	return frame, nil
}

func (s *fakeSource) Close(ctx context.Context) error {
	forced := false
	if s.script.closeDelay > 0 {
		select {
		case <-time.After(s.script.closeDelay):
		case <-ctx.Done():
			forced = true
		}
	}
	s.once.Do(func() {
		s.opener.mu.Lock()
		defer s.opener.mu.Unlock()
		s.opener.live--
		s.opener.closed = append(s.opener.closed, s.locator)
		if forced {
			s.opener.forced = append(s.opener.forced, s.locator)
		}
	})
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	frames [][]int16
	fail   bool
	eos    int
}

func (s *fakeSink) SendFrame(ctx context.Context, frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("voice connection lost")
	}
	s.frames = append(s.frames, append([]int16(nil), frame...))
	return nil
}

func (s *fakeSink) EndOfStream(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eos++
}

func (s *fakeSink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// sent returns (sequence, source id) for every delivered frame.
func (s *fakeSink) sent() [][2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][2]int, len(s.frames))
	for i, f := range s.frames {
		out[i] = [2]int{int(f[0]), int(f[1])}
	}
	return out
}

func (s *fakeSink) last() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// harness runs a controller inside a synctest bubble.
type harness struct {
	t        *testing.T
	c        *Controller
	resolver *fakeResolver
	opener   *fakeOpener
	sink     *fakeSink
	cancel   context.CancelFunc
	events   []Event
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EventBuffer = 1024
	for _, opt := range opts {
		opt(&cfg)
	}
	h := &harness{
		t:        t,
		resolver: newFakeResolver(),
		opener:   newFakeOpener(),
		sink:     &fakeSink{},
	}
	h.c = NewController(cfg, h.resolver, h.opener, h.sink)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		_ = h.c.Run(ctx)
	}()
	t.Cleanup(h.close)
	return h
}

func (h *harness) close() {
	h.cancel()
	<-h.c.Done()
}

func (h *harness) submit(kind RequestKind, url string, from Requester) {
	h.t.Helper()
	require.NoError(h.t, h.c.Submit(context.Background(), Request{Kind: kind, URL: url, From: from}))
}

func (h *harness) setVolume(v int, from Requester) {
	h.t.Helper()
	require.NoError(h.t, h.c.Submit(context.Background(), Request{Kind: RequestSetVolume, Volume: v, From: from}))
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, err := h.c.Snapshot(context.Background())
	require.NoError(h.t, err)
	return s
}

// drain collects every event emitted so far.
func (h *harness) drain() []Event {
	for {
		select {
		case ev, ok := <-h.c.Events():
			if !ok {
				return h.events
			}
			h.events = append(h.events, ev)
		default:
			return h.events
		}
	}
}

func (h *harness) eventsOf(kind EventKind) []Event {
	var out []Event
	for _, ev := range h.drain() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
