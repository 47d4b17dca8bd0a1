package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoAudioToMerge     = errors.New("no audio segments to merge")
	ErrIncompatibleFormat = errors.New("audio segments have incompatible formats")
)

// Merge concatenates ordered PCM clips into one clip, inserting gap worth of
// zero-amplitude samples between consecutive clips so segment boundaries do
// not click. All clips must share one sample rate and channel count.
func Merge(clips []Clip, gap time.Duration) (Clip, error) {
	if len(clips) == 0 {
		return Clip{}, ErrNoAudioToMerge
	}
	if len(clips) == 1 {
		return clips[0], nil
	}

	first := clips[0]
	total := 0
	for i, c := range clips {
		if c.SampleRate != first.SampleRate || c.Channels != first.Channels {
			return Clip{}, fmt.Errorf("%w: segment %d is %dHz/%dch, expected %dHz/%dch",
				ErrIncompatibleFormat, i, c.SampleRate, c.Channels, first.SampleRate, first.Channels)
		}
		total += len(c.PCM)
	}

	silence := silenceBytes(first.SampleRate, first.Channels, gap)
	var buf bytes.Buffer
	buf.Grow(total + len(silence)*(len(clips)-1))
	for i, c := range clips {
		if i > 0 {
			buf.Write(silence)
		}
		buf.Write(c.PCM)
	}

	return Clip{PCM: buf.Bytes(), SampleRate: first.SampleRate, Channels: first.Channels}, nil
}

func silenceBytes(sampleRate, channels int, gap time.Duration) []byte {
	if gap <= 0 || sampleRate <= 0 || channels <= 0 {
		return nil
	}
	frames := int(time.Duration(sampleRate) * gap / time.Second)
	return make([]byte, frames*channels*2)
}
