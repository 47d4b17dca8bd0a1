// Package speaker manages named reference voices and their derived
// artifacts. Registration is idempotent per audio identity; the phonetic
// transcript used by synthesis backends is derived lazily and memoized.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/voxlink/voxlink/internal/phonetic"
)

var (
	ErrAudioNotFound      = errors.New("speaker reference audio not found")
	ErrNoSpeakerAvailable = errors.New("no speaker available")
)

// Transcriber is the recognition fallback used when a reference voice comes
// without a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

type derivationState int

const (
	derivationPending derivationState = iota
	derivationDerived
	derivationFailed
)

// Speaker is a named reference voice. ReferenceAudio is owned by the
// registry and never mutated after registration.
type Speaker struct {
	ID                  string
	Name                string
	AudioPath           string
	ReferenceAudio      []byte
	ReferenceTranscript string

	// Lazy phonetic transcript cell: pending -> derived, or failed and
	// retried on the next read.
	mu        sync.Mutex
	state     derivationState
	phonetic  string
	deriveErr error
}

// Info is the externally visible speaker summary.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Registry holds all registered speakers. All mutation goes through its
// mutex; speakers are resolvable by id or by normalized audio path so the
// same reference audio never produces two entries.
type Registry struct {
	mu        sync.RWMutex
	speakers  map[string]*Speaker
	byPath    map[string]string
	order     []string
	defaultID string

	transcriber Transcriber
	language    string
}

func NewRegistry(transcriber Transcriber, language string) *Registry {
	return &Registry{
		speakers:    make(map[string]*Speaker),
		byPath:      make(map[string]string),
		transcriber: transcriber,
		language:    language,
	}
}

// Register adds a reference voice. Registering an existing id, or a path
// already registered under another id, returns the existing entry unchanged.
func (r *Registry) Register(id, name, audioPath, transcript string) (*Speaker, error) {
	absPath, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, fmt.Errorf("normalize audio path: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sp, ok := r.speakers[id]; ok {
		return sp, nil
	}
	if existing, ok := r.byPath[absPath]; ok {
		return r.speakers[existing], nil
	}

	audio, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAudioNotFound, audioPath, err)
	}

	if id == "" {
		id = strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	}
	if name == "" {
		name = id
	}
	sp := &Speaker{
		ID:                  id,
		Name:                name,
		AudioPath:           absPath,
		ReferenceAudio:      audio,
		ReferenceTranscript: strings.TrimSpace(transcript),
	}
	r.speakers[id] = sp
	r.byPath[absPath] = id
	r.order = append(r.order, id)
	return sp, nil
}

// Has reports whether a speaker id is already registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.speakers[id]
	return ok
}

// Resolve looks a speaker up by id first, then by audio path identity. A
// path that is not registered yet is auto-registered. An empty reference
// resolves to the default speaker.
func (r *Registry) Resolve(ref string) (*Speaker, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return r.Default()
	}

	r.mu.RLock()
	if sp, ok := r.speakers[ref]; ok {
		r.mu.RUnlock()
		return sp, nil
	}
	if abs, err := filepath.Abs(ref); err == nil {
		if id, ok := r.byPath[abs]; ok {
			sp := r.speakers[id]
			r.mu.RUnlock()
			return sp, nil
		}
	}
	r.mu.RUnlock()

	if _, err := os.Stat(ref); err == nil {
		return r.Register("", "", ref, "")
	}
	return nil, fmt.Errorf("%w: %s", ErrAudioNotFound, ref)
}

// SetDefault marks an already-registered speaker as the default voice.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.speakers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSpeakerAvailable, id)
	}
	r.defaultID = id
	return nil
}

// Default returns the designated default speaker, else the first registered
// one.
func (r *Registry) Default() (*Speaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultID != "" {
		if sp, ok := r.speakers[r.defaultID]; ok {
			return sp, nil
		}
	}
	if len(r.order) > 0 {
		return r.speakers[r.order[0]], nil
	}
	return nil, ErrNoSpeakerAvailable
}

// Deregister removes a speaker, reporting whether it existed.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.speakers[id]
	if !ok {
		return false
	}
	delete(r.speakers, id)
	delete(r.byPath, sp.AudioPath)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.defaultID == id {
		r.defaultID = ""
	}
	return true
}

// List returns registered speakers in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		sp := r.speakers[id]
		out = append(out, Info{ID: sp.ID, Name: sp.Name, Path: sp.AudioPath})
	}
	return out
}

// Len reports the number of registered speakers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.speakers)
}

// PhoneticTranscript returns the memoized phonetic form of the speaker's
// reference transcript, deriving it on first use. When no transcript was
// provided the reference audio is transcribed first. A failed derivation is
// remembered but retried on the next read; it never invalidates the speaker.
func (r *Registry) PhoneticTranscript(ctx context.Context, sp *Speaker) (string, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.state == derivationDerived {
		return sp.phonetic, nil
	}

	text := sp.ReferenceTranscript
	if text == "" {
		if r.transcriber == nil {
			sp.state = derivationFailed
			sp.deriveErr = fmt.Errorf("no transcript and no transcriber for speaker %s", sp.ID)
			return "", sp.deriveErr
		}
		transcribed, err := r.transcriber.Transcribe(ctx, sp.ReferenceAudio, r.language)
		if err != nil {
			sp.state = derivationFailed
			sp.deriveErr = fmt.Errorf("transcribe reference audio for %s: %w", sp.ID, err)
			return "", sp.deriveErr
		}
		text = transcribed
	}

	sp.phonetic = phonetic.Prepare(text)
	sp.state = derivationDerived
	sp.deriveErr = nil
	return sp.phonetic, nil
}
