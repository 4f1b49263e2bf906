package playback

import (
	"errors"
	"fmt"
)

var (
	ErrNotPlaying       = errors.New("nothing is playing")
	ErrNotPaused        = errors.New("playback is not paused")
	ErrVolumeRange      = errors.New("volume must be between 0 and 100")
	ErrControllerClosed = errors.New("controller is closed")
	ErrAlreadyRunning   = errors.New("controller is already running")
)

// ResolutionErrorKind classifies why a URL could not be resolved.
type ResolutionErrorKind int

const (
	ResolutionUnavailable ResolutionErrorKind = iota
	ResolutionBadMetadata
	ResolutionTimeout
)

func (k ResolutionErrorKind) String() string {
	switch k {
	case ResolutionUnavailable:
		return "unavailable"
	case ResolutionBadMetadata:
		return "bad metadata"
	case ResolutionTimeout:
		return "timed out"
	default:
		return "unknown"
	}
}

// ResolutionError is returned by a Resolver.
type ResolutionError struct {
	Kind ResolutionErrorKind
	URL  string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("resolve %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// PipelineErrorKind classifies a failed pipeline.
type PipelineErrorKind int

const (
	PipelineOpenFailed PipelineErrorKind = iota
	PipelineStalled
	PipelineDecodeFailed
	PipelineSinkFailed
)

func (k PipelineErrorKind) String() string {
	switch k {
	case PipelineOpenFailed:
		return "open failed"
	case PipelineStalled:
		return "stalled"
	case PipelineDecodeFailed:
		return "decode failed"
	case PipelineSinkFailed:
		return "sink failed"
	default:
		return "unknown"
	}
}

// PipelineError is a terminal failure of a frame source or of frame delivery.
type PipelineError struct {
	Kind PipelineErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return "pipeline " + e.Kind.String()
	}
	return fmt.Sprintf("pipeline %s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsPipelineError reports whether err is a PipelineError of the given kind.
func IsPipelineError(err error, kind PipelineErrorKind) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsResolutionError reports whether err is a ResolutionError of the given kind.
func IsResolutionError(err error, kind ResolutionErrorKind) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.Kind == kind
}
