package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voxlink/voxlink/internal/audio"
	"github.com/voxlink/voxlink/internal/phonetic"
	"github.com/voxlink/voxlink/internal/speaker"
)

var ErrEmptyText = errors.New("no text to synthesize")

// DispatcherConfig carries the segmentation and scheduling knobs.
type DispatcherConfig struct {
	SegmentThreshold int
	SegmentBudget    int
	MaxConcurrent    int
	CallTimeout      time.Duration
	MergeGap         time.Duration
}

// Dispatcher schedules segment synthesis over a backend with bounded
// parallelism, consults the segment cache, and merges the results in
// segment order.
type Dispatcher struct {
	backend  Backend
	cache    *Cache
	registry *speaker.Registry
	cfg      DispatcherConfig

	// OnCacheLookup observes every per-segment cache probe when set.
	OnCacheLookup func(hit bool)
}

func NewDispatcher(backend Backend, cache *Cache, registry *speaker.Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Dispatcher{backend: backend, cache: cache, registry: registry, cfg: cfg}
}

// Request is one synthesis job: a full reply text in a reference voice.
type Request struct {
	Text    string
	Speaker *speaker.Speaker
	Params  Params
}

// Synthesize renders req.Text in the speaker's voice. Replies over the
// segmentation threshold are split and synthesized concurrently; segment
// audio is cached so retries after a partial failure only redo the failed
// segments.
func (d *Dispatcher) Synthesize(ctx context.Context, req Request) (audio.Clip, error) {
	segments := SplitSegments(req.Text, d.cfg.SegmentThreshold, d.cfg.SegmentBudget)
	if len(segments) == 0 {
		return audio.Clip{}, ErrEmptyText
	}

	refTranscript := d.referenceTranscript(ctx, req.Speaker)

	if len(segments) == 1 {
		clip, err := d.segment(ctx, segments[0], req, refTranscript)
		if err != nil {
			return audio.Clip{}, err
		}
		return clip, nil
	}

	clips := make([]audio.Clip, len(segments))
	errs := make([]error, len(segments))
	sem := make(chan struct{}, d.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, seg := range segments {
		wg.Add(1)
		go func(seg Segment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			clips[seg.Index], errs[seg.Index] = d.segment(ctx, seg, req, refTranscript)
		}(seg)
	}
	wg.Wait()

	var failed []int
	var failures []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, i)
			failures = append(failures, err)
		}
	}
	if len(failed) > 0 {
		return audio.Clip{}, &PartialSynthesisError{
			Total:   len(segments),
			Indices: failed,
			Errs:    failures,
		}
	}

	merged, err := audio.Merge(clips, d.cfg.MergeGap)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("merge segments: %w", err)
	}
	return merged, nil
}

// segment renders one segment, serving it from the cache when possible.
func (d *Dispatcher) segment(ctx context.Context, seg Segment, req Request, refTranscript string) (audio.Clip, error) {
	prepared := phonetic.Prepare(seg.Text)
	key := CacheKey(prepared, req.Speaker.ID, req.Params.GuidanceScale)

	if clip, ok := d.cache.Get(key); ok {
		if d.OnCacheLookup != nil {
			d.OnCacheLookup(true)
		}
		return clip, nil
	}
	if d.OnCacheLookup != nil {
		d.OnCacheLookup(false)
	}

	callCtx := ctx
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	clip, err := d.backend.Synthesize(callCtx, BackendRequest{
		Text:                prepared,
		ReferenceAudio:      req.Speaker.ReferenceAudio,
		ReferenceTranscript: refTranscript,
		GuidanceScale:       req.Params.GuidanceScale,
	})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("segment %d: %w", seg.Index, err)
	}
	if clip.Empty() {
		return audio.Clip{}, fmt.Errorf("segment %d: backend returned empty audio", seg.Index)
	}
	d.cache.Put(key, clip)
	return clip, nil
}

// referenceTranscript prefers the speaker's derived phonetic transcript and
// falls back to the raw one. Derivation failure degrades quality but never
// blocks synthesis.
func (d *Dispatcher) referenceTranscript(ctx context.Context, sp *speaker.Speaker) string {
	if d.registry == nil {
		return sp.ReferenceTranscript
	}
	derived, err := d.registry.PhoneticTranscript(ctx, sp)
	if err != nil {
		return sp.ReferenceTranscript
	}
	return derived
}

// Ready reports whether the underlying backend is usable.
func (d *Dispatcher) Ready() bool { return d.backend.Ready() }

// CacheStats exposes segment cache hit counters.
func (d *Dispatcher) CacheStats() (hits, misses int64) { return d.cache.Stats() }
