package stt

import (
	"context"
	"time"
)

// MockRecognizer returns canned transcripts for local development and tests.
type MockRecognizer struct {
	Text  string
	Err   error
	Delay time.Duration
}

func NewMockRecognizer(text string) *MockRecognizer {
	return &MockRecognizer{Text: text}
}

func (m *MockRecognizer) Transcribe(ctx context.Context, _ []byte, _ string) (string, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

func (m *MockRecognizer) Ready() bool { return m.Err == nil }
