package audio

import "time"

// Clip is a run of raw PCM16LE samples with its format attached.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Empty reports whether the clip carries no samples.
func (c Clip) Empty() bool { return len(c.PCM) == 0 }

// Duration computes the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.PCM) / (2 * c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}
