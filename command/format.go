package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"jukebox/playback"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
)

const infoQueueLimit = 10

// Formatter renders controller events and dispatcher errors as chat text.
type Formatter struct {
	Prefix  string
	BotName string
}

func NewFormatter(prefix, botName string) *Formatter {
	return &Formatter{Prefix: prefix, BotName: botName}
}

// Format returns the reply for ev, or "" when nothing should be said.
func (f *Formatter) Format(ev playback.Event) string {
	switch ev.Kind {
	case playback.EventNowPlaying:
		return "Now playing: " + trackLine(ev.Track)
	case playback.EventQueued:
		return fmt.Sprintf("Queued %s as %s in line.", trackLine(ev.Track), humanize.Ordinal(ev.Position))
	case playback.EventPaused:
		return "Paused."
	case playback.EventResumed:
		return "Resumed."
	case playback.EventSkipped:
		if ev.Track != nil {
			return "Skipped " + ev.Track.DisplayTitle() + "."
		}
		return "Skipped " + ev.URL + "."
	case playback.EventStopped:
		if ev.Dropped > 0 {
			return fmt.Sprintf("Stopped. Cleared %s from the queue.", plural(ev.Dropped, "track"))
		}
		return "Stopped."
	case playback.EventVolume:
		return fmt.Sprintf("Volume is %d.", ev.Volume)
	case playback.EventInfo:
		return f.info(ev.Snapshot)
	case playback.EventHelp:
		return f.Help()
	case playback.EventTrackFailed:
		title := ev.URL
		if ev.Track != nil {
			title = ev.Track.DisplayTitle()
		}
		return fmt.Sprintf("Could not play %s: %s.", title, describe(ev.Err))
	case playback.EventError:
		if ev.URL != "" {
			return fmt.Sprintf("Could not load %s: %s.", ev.URL, describe(ev.Err))
		}
		return sentence(describe(ev.Err))
	case playback.EventQueueEnded:
		return "The queue is empty."
	case playback.EventQuit:
		return "Bye."
	default:
		return ""
	}
}

// FormatError renders a dispatcher error.
func (f *Formatter) FormatError(err error) string {
	var cmdErr *Error
	if errors.As(err, &cmdErr) {
		usage := f.usage(cmdErr.Verb)
		if usage == "" {
			return sentence(cmdErr.Message)
		}
		return fmt.Sprintf("%s. Usage: %s", strings.TrimSuffix(sentence(cmdErr.Message), "."), usage)
	}
	return sentence(describe(err))
}

// Help lists every command with its aliases.
func (f *Formatter) Help() string {
	var b strings.Builder
	if f.BotName != "" {
		fmt.Fprintf(&b, "%s commands:\n", f.BotName)
	} else {
		b.WriteString("Commands:\n")
	}
	for _, s := range Commands {
		b.WriteString(f.usage(s.Name))
		if len(s.Aliases) > 0 {
			aliases := lo.Map(s.Aliases, func(a string, _ int) string { return f.Prefix + a })
			fmt.Fprintf(&b, " (%s)", strings.Join(aliases, ", "))
		}
		fmt.Fprintf(&b, " - %s\n", s.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (f *Formatter) usage(verb string) string {
	def, ok := lo.Find(Commands, func(s Definition) bool { return s.Name == verb })
	if !ok {
		return ""
	}
	if def.Args == "" {
		return f.Prefix + def.Name
	}
	return f.Prefix + def.Name + " " + def.Args
}

func (f *Formatter) info(s *playback.Snapshot) string {
	if s == nil {
		return ""
	}

	var b strings.Builder
	switch {
	case s.Current != nil:
		state := "Playing"
		if s.State == playback.StatePaused {
			state = "Paused"
		}
		fmt.Fprintf(&b, "%s: %s\n", state, s.Current.DisplayTitle())
		fmt.Fprintf(&b, "Position: %s\n", progress(s.Elapsed, s.Current))
		fmt.Fprintf(&b, "Link: <%s>\n", s.Current.URL)
		if s.Current.Requester.Name != "" {
			fmt.Fprintf(&b, "Requested by %s\n", s.Current.Requester.Name)
		}
	case s.State == playback.StateLoading:
		b.WriteString("Loading the next track.\n")
	default:
		b.WriteString("Nothing is playing.\n")
	}
	fmt.Fprintf(&b, "Volume: %d\n", s.Volume)

	if len(s.Queue) == 0 {
		b.WriteString("The queue is empty.")
	} else {
		shown := s.Queue[:min(len(s.Queue), infoQueueLimit)]
		lines := lo.Map(shown, func(t playback.Track, i int) string {
			return fmt.Sprintf("%s: %s", humanize.Ordinal(i+1), trackLine(&t))
		})
		b.WriteString("Up next:\n")
		b.WriteString(strings.Join(lines, "\n"))
		if rest := len(s.Queue) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "\n...and %d more %s", rest, lo.Ternary(rest == 1, "track", "tracks"))
		}
	}
	if s.Pending > 0 {
		fmt.Fprintf(&b, "\nStill loading %s.", plural(s.Pending, "link"))
	}
	return b.String()
}

func trackLine(t *playback.Track) string {
	if t == nil {
		return "unknown track"
	}
	switch {
	case t.Live:
		return t.DisplayTitle() + " [live]"
	case t.Duration > 0:
		return fmt.Sprintf("%s [%s]", t.DisplayTitle(), clock(t.Duration))
	default:
		return t.DisplayTitle()
	}
}

func progress(elapsed time.Duration, t *playback.Track) string {
	if t.Duration > 0 && !t.Live {
		return clock(elapsed) + " / " + clock(t.Duration)
	}
	return clock(elapsed)
}

// clock formats d as m:ss or h:mm:ss.
func clock(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func describe(err error) string {
	var re *playback.ResolutionError
	var pe *playback.PipelineError
	switch {
	case err == nil:
		return "unknown error"
	case errors.As(err, &re):
		switch re.Kind {
		case playback.ResolutionTimeout:
			return "the lookup timed out"
		case playback.ResolutionBadMetadata:
			return "the site returned something unplayable"
		default:
			return "it is unavailable or not supported"
		}
	case errors.As(err, &pe):
		switch pe.Kind {
		case playback.PipelineOpenFailed:
			return "the decoder could not be started"
		case playback.PipelineStalled:
			return "the stream stopped sending audio"
		case playback.PipelineSinkFailed:
			return "the voice connection failed"
		default:
			return "the stream could not be decoded"
		}
	case errors.Is(err, playback.ErrNotPlaying):
		return "nothing is playing"
	case errors.Is(err, playback.ErrNotPaused):
		return "playback is not paused"
	case errors.Is(err, playback.ErrVolumeRange):
		return "volume must be between 0 and 100"
	case errors.Is(err, playback.ErrControllerClosed):
		return "the player is shutting down"
	default:
		return err.Error()
	}
}

// sentence capitalizes s and ends it with a period.
func sentence(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToUpper(s[:1]) + s[1:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}
