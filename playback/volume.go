package playback

import (
	"math"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// frameStreamer exposes one interleaved stereo s16 frame as a beep.Streamer.
type frameStreamer struct {
	pcm    []int16
	pcmIdx int
}

var _ beep.Streamer = (*frameStreamer)(nil)

func (s *frameStreamer) reset(pcm []int16) {
	s.pcm = pcm
	s.pcmIdx = 0
}

func (s *frameStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for ; n < len(samples) && s.pcmIdx+1 < len(s.pcm); n++ {
		samples[n][0] = float64(s.pcm[s.pcmIdx]) / 32767
		samples[n][1] = float64(s.pcm[s.pcmIdx+1]) / 32767
		s.pcmIdx += 2
	}
	return n, n > 0
}

func (s *frameStreamer) Err() error {
	return nil
}

// volumeStage scales frames by the controller's shared 0..100 level. One
// stage belongs to one pipeline, so the level can change mid-track while the
// scratch buffers stay private to the delivering goroutine.
type volumeStage struct {
	level   *atomic.Int32
	src     frameStreamer
	gain    effects.Gain
	samples [][2]float64
}

func newVolumeStage(level *atomic.Int32) *volumeStage {
	v := &volumeStage{
		level:   level,
		samples: make([][2]float64, FrameSamples),
	}
	v.gain.Streamer = &v.src
	return v
}

// Apply scales frame in place and returns it.
func (v *volumeStage) Apply(frame []int16) []int16 {
	level := v.level.Load()
	switch {
	case level >= 100:
		return frame
	case level <= 0:
		clear(frame)
		return frame
	}

	pairs := len(frame) / 2
	if pairs > len(v.samples) {
		v.samples = make([][2]float64, pairs)
	}

	v.src.reset(frame)
	v.gain.Gain = float64(level)/100 - 1
	n, _ := v.gain.Stream(v.samples[:pairs])
	for i := 0; i < n; i++ {
		frame[2*i] = toSample(v.samples[i][0])
		frame[2*i+1] = toSample(v.samples[i][1])
	}
	return frame
}

func toSample(f float64) int16 {
	s := math.Round(f * 32767)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}
