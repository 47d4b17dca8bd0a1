package synth

import (
	"context"
	"sync"
	"time"

	"github.com/voxlink/voxlink/internal/audio"
)

// MockBackend produces deterministic silence proportional to the text
// length. It records every request for inspection and can be scripted to
// delay or fail.
type MockBackend struct {
	SampleRate int
	Channels   int

	// Delay is applied before producing audio; it is interruptible by ctx.
	Delay time.Duration
	// Fail selects requests that should error when set.
	Fail func(req BackendRequest) error

	mu    sync.Mutex
	calls []BackendRequest
}

func NewMockBackend(sampleRate, channels int) *MockBackend {
	return &MockBackend{SampleRate: sampleRate, Channels: channels}
}

// bytesPerRune keeps the mock clip duration proportional to text length,
// about 50ms of 16kHz mono audio per rune.
const bytesPerRune = 1600

func (b *MockBackend) Synthesize(ctx context.Context, req BackendRequest) (audio.Clip, error) {
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		}
	}
	if b.Fail != nil {
		if err := b.Fail(req); err != nil {
			return audio.Clip{}, err
		}
	}

	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()

	n := len([]rune(req.Text))
	if n == 0 {
		n = 1
	}
	return audio.Clip{
		PCM:        make([]byte, n*bytesPerRune),
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
	}, nil
}

func (b *MockBackend) Ready() bool { return true }

// Calls returns a copy of all recorded requests in arrival order.
func (b *MockBackend) Calls() []BackendRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BackendRequest(nil), b.calls...)
}
