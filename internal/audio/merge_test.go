package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func pcmClip(fill byte, frames, sampleRate, channels int) Clip {
	pcm := bytes.Repeat([]byte{fill}, frames*channels*2)
	return Clip{PCM: pcm, SampleRate: sampleRate, Channels: channels}
}

func TestMergeEmptyFails(t *testing.T) {
	_, err := Merge(nil, 200*time.Millisecond)
	if !errors.Is(err, ErrNoAudioToMerge) {
		t.Fatalf("Merge(nil) error = %v, want ErrNoAudioToMerge", err)
	}
}

func TestMergeSingleReturnsUnchanged(t *testing.T) {
	in := pcmClip(0x7f, 100, 16000, 1)
	out, err := Merge([]Clip{in}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !bytes.Equal(out.PCM, in.PCM) {
		t.Fatalf("single-clip merge changed the audio")
	}
}

func TestMergeInsertsSilenceBetweenClips(t *testing.T) {
	a := pcmClip(0x11, 10, 16000, 1)
	b := pcmClip(0x22, 10, 16000, 1)
	c := pcmClip(0x33, 10, 16000, 1)

	out, err := Merge([]Clip{a, b, c}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	gap := 3200 * 2 // 200ms at 16kHz mono PCM16
	wantLen := len(a.PCM) + len(b.PCM) + len(c.PCM) + 2*gap
	if len(out.PCM) != wantLen {
		t.Fatalf("merged length = %d, want %d", len(out.PCM), wantLen)
	}

	// Segment payloads must appear in order with zeroed gaps between them.
	if !bytes.Equal(out.PCM[:len(a.PCM)], a.PCM) {
		t.Fatalf("first segment not at start of merged audio")
	}
	silence := out.PCM[len(a.PCM) : len(a.PCM)+gap]
	for i, v := range silence {
		if v != 0 {
			t.Fatalf("gap byte %d = %#x, want 0", i, v)
		}
	}
	second := out.PCM[len(a.PCM)+gap : len(a.PCM)+gap+len(b.PCM)]
	if !bytes.Equal(second, b.PCM) {
		t.Fatalf("second segment out of place")
	}
	tail := out.PCM[wantLen-len(c.PCM):]
	if !bytes.Equal(tail, c.PCM) {
		t.Fatalf("third segment not at end of merged audio")
	}
}

func TestMergeRejectsMixedFormats(t *testing.T) {
	a := pcmClip(0x11, 10, 16000, 1)
	b := pcmClip(0x22, 10, 24000, 1)
	_, err := Merge([]Clip{a, b}, 0)
	if !errors.Is(err, ErrIncompatibleFormat) {
		t.Fatalf("Merge() error = %v, want ErrIncompatibleFormat", err)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	clip := pcmClip(0x01, 8, 16000, 1)
	wav, err := EncodeWAV(clip)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+len(clip.PCM) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(clip.PCM))
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers")
	}
	if !bytes.Equal(wav[44:], clip.PCM) {
		t.Fatalf("payload does not follow the 44-byte header")
	}
}

func TestClipDuration(t *testing.T) {
	clip := pcmClip(0, 16000, 16000, 1)
	if d := clip.Duration(); d != time.Second {
		t.Fatalf("Duration() = %v, want 1s", d)
	}
}
