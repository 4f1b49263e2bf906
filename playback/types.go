package playback

import (
	"context"
	"time"
)

// Output format of every frame that crosses the pipeline. The voice
// transport requires 20ms of 48kHz interleaved stereo s16 samples.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameSamples  = 960
	FrameLen      = FrameSamples * Channels
	FrameDuration = 20 * time.Millisecond
)

// Requester identifies who asked for something and where the answer goes.
type Requester struct {
	ID        string
	Name      string
	ChannelID string
	MessageID string
}

// Track is one playable unit produced by a successful resolution.
type Track struct {
	URL       string        // as submitted
	Locator   string        // direct stream locator handed to the frame source
	Title     string
	Duration  time.Duration // zero when unknown
	Live      bool
	Requester Requester
}

// DisplayTitle returns the title, or the submitted URL when there is none.
func (t Track) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.URL
}

// State is the controller's playback state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// IsActive returns true if a track owns the pipeline (playing or paused).
func (s State) IsActive() bool {
	return s == StatePlaying || s == StatePaused
}

// RequestKind tags a typed command request.
type RequestKind int

const (
	RequestPlay RequestKind = iota
	RequestPlayNext
	RequestPause
	RequestResume
	RequestSkip
	RequestStop
	RequestSetVolume
	RequestGetVolume
	RequestInfo
	RequestHelp
	RequestQuit
)

var requestNames = map[RequestKind]string{
	RequestPlay:      "play",
	RequestPlayNext:  "play-next",
	RequestPause:     "pause",
	RequestResume:    "resume",
	RequestSkip:      "skip",
	RequestStop:      "stop",
	RequestSetVolume: "set-volume",
	RequestGetVolume: "get-volume",
	RequestInfo:      "info",
	RequestHelp:      "help",
	RequestQuit:      "quit",
}

func (k RequestKind) String() string {
	if name, ok := requestNames[k]; ok {
		return name
	}
	return "unknown"
}

// Request is a parsed command on its way to the controller.
type Request struct {
	Kind   RequestKind
	URL    string
	Volume int
	From   Requester
}

// Snapshot is a consistent read of the controller state.
type Snapshot struct {
	State   State
	Current *Track
	Elapsed time.Duration
	Queue   []Track
	Pending int // resolutions not yet finished
	Volume  int
}

// Resolver maps a submitted URL to a playable track.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, by Requester) (*Track, error)
}

// FrameSource yields fixed-size PCM frames for one track. NextFrame returns
// io.EOF once the stream is exhausted; a source is not restartable.
type FrameSource interface {
	NextFrame(ctx context.Context) ([]int16, error)
	// Close stops the source. Cancelling ctx skips the grace period.
	Close(ctx context.Context) error
}

// SourceOpener starts a frame source for a resolved stream locator.
type SourceOpener interface {
	Open(ctx context.Context, locator string) (FrameSource, error)
}

// FrameSink delivers one frame to the voice transport.
type FrameSink interface {
	SendFrame(ctx context.Context, frame []int16) error
}

// EndOfStreamer is implemented by sinks that need to know when a pipeline
// stops delivering frames.
type EndOfStreamer interface {
	EndOfStream(ctx context.Context)
}
