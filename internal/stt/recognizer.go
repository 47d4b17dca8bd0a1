package stt

import "context"

// Recognizer abstracts speech-to-text backends. Audio is passed as the raw
// uploaded bytes; the backend owns container handling and decoding.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
	Ready() bool
}
