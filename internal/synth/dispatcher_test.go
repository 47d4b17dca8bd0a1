package synth

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxlink/voxlink/internal/audio"
	"github.com/voxlink/voxlink/internal/speaker"
)

// scriptedBackend runs a per-request script and tracks concurrency.
type scriptedBackend struct {
	script func(req BackendRequest) (audio.Clip, error)

	mu       sync.Mutex
	calls    []BackendRequest
	inFlight int32
	peak     int32
}

func (b *scriptedBackend) Synthesize(ctx context.Context, req BackendRequest) (audio.Clip, error) {
	cur := atomic.AddInt32(&b.inFlight, 1)
	for {
		peak := atomic.LoadInt32(&b.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&b.peak, peak, cur) {
			break
		}
	}
	defer atomic.AddInt32(&b.inFlight, -1)

	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()
	return b.script(req)
}

func (b *scriptedBackend) Ready() bool { return true }

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func testSpeaker(t *testing.T) (*speaker.Registry, *speaker.Speaker) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mei.wav")
	if err := os.WriteFile(path, []byte("ref audio"), 0o644); err != nil {
		t.Fatalf("write voice: %v", err)
	}
	reg := speaker.NewRegistry(nil, "zh")
	sp, err := reg.Register("mei", "Mei", path, "參考逐字稿")
	if err != nil {
		t.Fatalf("register speaker: %v", err)
	}
	return reg, sp
}

// Three five-rune sentences; threshold 10 and budget 8 keep each one a
// separate segment.
const multiText = "一二三四五。六七八九十。甲乙丙丁戊。"

var multiCfg = DispatcherConfig{
	SegmentThreshold: 10,
	SegmentBudget:    8,
	MaxConcurrent:    2,
	MergeGap:         0,
}

func TestSynthesizeSingleSegmentCaches(t *testing.T) {
	reg, sp := testSpeaker(t)
	backend := &scriptedBackend{script: func(req BackendRequest) (audio.Clip, error) {
		return audio.Clip{PCM: []byte{7, 7}, SampleRate: 16000, Channels: 1}, nil
	}}
	d := NewDispatcher(backend, NewCache(8), reg, DispatcherConfig{
		SegmentThreshold: 150, SegmentBudget: 100, MaxConcurrent: 3,
	})

	req := Request{Text: "你好", Speaker: sp, Params: Params{GuidanceScale: 1.3}}
	first, err := d.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	second, err := d.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("cached synthesize: %v", err)
	}
	if !bytes.Equal(first.PCM, second.PCM) {
		t.Fatal("cached result differs from the original")
	}
	if backend.callCount() != 1 {
		t.Fatalf("backend called %d times, want 1", backend.callCount())
	}
}

func TestSynthesizeOrdersSegmentsDespiteLatency(t *testing.T) {
	reg, sp := testSpeaker(t)

	// Earlier segments finish last; the merge must still follow text order.
	marks := map[string]byte{"一二三四五": 1, "六七八九十": 2, "甲乙丙丁戊": 3}
	backend := &scriptedBackend{script: func(req BackendRequest) (audio.Clip, error) {
		mark, ok := marks[req.Text]
		if !ok {
			return audio.Clip{}, errors.New("unexpected segment text: " + req.Text)
		}
		time.Sleep(time.Duration(4-mark) * 10 * time.Millisecond)
		return audio.Clip{PCM: []byte{mark, mark}, SampleRate: 16000, Channels: 1}, nil
	}}
	d := NewDispatcher(backend, NewCache(8), reg, multiCfg)

	clip, err := d.Synthesize(context.Background(), Request{Text: multiText, Speaker: sp})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	want := []byte{1, 1, 2, 2, 3, 3}
	if !bytes.Equal(clip.PCM, want) {
		t.Fatalf("merged PCM = %v, want %v", clip.PCM, want)
	}
	if backend.peak > 2 {
		t.Fatalf("observed %d concurrent calls, limit is 2", backend.peak)
	}
}

func TestSynthesizePartialFailureKeepsSiblings(t *testing.T) {
	reg, sp := testSpeaker(t)

	var failMiddle atomic.Bool
	failMiddle.Store(true)
	backend := &scriptedBackend{script: func(req BackendRequest) (audio.Clip, error) {
		if strings.Contains(req.Text, "六七八九十") && failMiddle.Load() {
			return audio.Clip{}, errors.New("backend crashed")
		}
		return audio.Clip{PCM: []byte{9, 9}, SampleRate: 16000, Channels: 1}, nil
	}}
	d := NewDispatcher(backend, NewCache(8), reg, multiCfg)

	_, err := d.Synthesize(context.Background(), Request{Text: multiText, Speaker: sp})
	var partial *PartialSynthesisError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want PartialSynthesisError", err)
	}
	if len(partial.Indices) != 1 || partial.Indices[0] != 1 {
		t.Fatalf("failed indices = %v, want [1]", partial.Indices)
	}
	if partial.Total != 3 {
		t.Fatalf("Total = %d, want 3", partial.Total)
	}
	firstRound := backend.callCount()

	// Retry only re-renders the failed segment.
	failMiddle.Store(false)
	if _, err := d.Synthesize(context.Background(), Request{Text: multiText, Speaker: sp}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := backend.callCount() - firstRound; got != 1 {
		t.Fatalf("retry issued %d backend calls, want 1", got)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	reg, sp := testSpeaker(t)
	d := NewDispatcher(NewMockBackend(16000, 1), NewCache(4), reg, multiCfg)
	if _, err := d.Synthesize(context.Background(), Request{Text: " ", Speaker: sp}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestSynthesizePassesReferenceVoice(t *testing.T) {
	reg, sp := testSpeaker(t)
	backend := &scriptedBackend{script: func(req BackendRequest) (audio.Clip, error) {
		return audio.Clip{PCM: []byte{1}, SampleRate: 16000, Channels: 1}, nil
	}}
	d := NewDispatcher(backend, NewCache(4), reg, DispatcherConfig{
		SegmentThreshold: 150, SegmentBudget: 100, MaxConcurrent: 1,
	})

	if _, err := d.Synthesize(context.Background(), Request{
		Text: "你好", Speaker: sp, Params: Params{GuidanceScale: 2.5},
	}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	call := backend.calls[0]
	if !bytes.Equal(call.ReferenceAudio, sp.ReferenceAudio) {
		t.Fatal("reference audio not forwarded")
	}
	if call.ReferenceTranscript == "" {
		t.Fatal("reference transcript not forwarded")
	}
	if call.GuidanceScale != 2.5 {
		t.Fatalf("guidance scale = %v, want 2.5", call.GuidanceScale)
	}
}

func TestSynthesizeCacheLookupObserver(t *testing.T) {
	reg, sp := testSpeaker(t)
	d := NewDispatcher(NewMockBackend(16000, 1), NewCache(4), reg, DispatcherConfig{
		SegmentThreshold: 150, SegmentBudget: 100, MaxConcurrent: 1,
	})
	var hits, misses int
	d.OnCacheLookup = func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}

	req := Request{Text: "你好", Speaker: sp}
	if _, err := d.Synthesize(context.Background(), req); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if _, err := d.Synthesize(context.Background(), req); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if hits != 1 || misses != 1 {
		t.Fatalf("observer saw %d hits, %d misses; want 1, 1", hits, misses)
	}
}
