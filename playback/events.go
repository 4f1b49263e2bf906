package playback

// EventKind tags what an Event reports.
type EventKind int

const (
	EventNowPlaying EventKind = iota
	EventQueued
	EventPaused
	EventResumed
	EventSkipped
	EventStopped
	EventVolume
	EventInfo
	EventHelp
	EventTrackFailed
	EventError
	EventQueueEnded
	EventQuit
)

func (k EventKind) String() string {
	switch k {
	case EventNowPlaying:
		return "now-playing"
	case EventQueued:
		return "queued"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventSkipped:
		return "skipped"
	case EventStopped:
		return "stopped"
	case EventVolume:
		return "volume"
	case EventInfo:
		return "info"
	case EventHelp:
		return "help"
	case EventTrackFailed:
		return "track-failed"
	case EventError:
		return "error"
	case EventQueueEnded:
		return "queue-ended"
	case EventQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Event is emitted by the controller for every user-visible outcome.
//
// To is the requester the event answers; nil means the event is a broadcast
// (for example the queue running dry after the last track).
type Event struct {
	Kind     EventKind
	To       *Requester
	Track    *Track
	URL      string
	Position int // queue position for EventQueued, 1-based
	Volume   int
	Dropped  int // tracks removed from the queue by stop
	Snapshot *Snapshot
	Err      error
}
