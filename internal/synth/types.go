// Package synth turns reply text into merged speech audio. Long replies
// are segmented, synthesized with bounded parallelism, cached per segment,
// and concatenated with a short silence gap.
package synth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/voxlink/voxlink/internal/audio"
)

// Params are the per-request synthesis knobs. GuidanceScale passes through
// to the backend unchanged for every segment of a request.
type Params struct {
	GuidanceScale float64
}

// BackendRequest is a single segment handed to a synthesis backend.
type BackendRequest struct {
	Text                string
	ReferenceAudio      []byte
	ReferenceTranscript string
	GuidanceScale       float64
}

// Backend produces audio for one piece of text in the reference voice.
type Backend interface {
	Synthesize(ctx context.Context, req BackendRequest) (audio.Clip, error)
	Ready() bool
}

// PartialSynthesisError reports which segments of a multi-segment request
// failed. Successful siblings stay cached, so a retry only redoes the
// failed indices.
type PartialSynthesisError struct {
	Total   int
	Indices []int
	Errs    []error
}

func (e *PartialSynthesisError) Error() string {
	idx := append([]int(nil), e.Indices...)
	sort.Ints(idx)
	parts := make([]string, len(idx))
	for i, n := range idx {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("synthesis failed for %d/%d segments (indices %s)",
		len(e.Indices), e.Total, strings.Join(parts, ","))
}

func (e *PartialSynthesisError) Unwrap() []error { return e.Errs }
