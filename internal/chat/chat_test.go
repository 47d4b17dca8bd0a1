package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxlink/voxlink/internal/convo"
)

type scriptedReplier struct {
	reply string
	err   error
	calls int
}

func (s *scriptedReplier) Reply(context.Context, string, []convo.Turn) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *scriptedReplier) Ready() bool { return s.err == nil }

func TestRuleReplierKeywords(t *testing.T) {
	r := NewRuleReplier()
	r.now = func() time.Time {
		return time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	}
	ctx := context.Background()

	cases := []struct {
		name    string
		message string
		want    string
	}{
		{"weather", "今天天氣如何", "氣象局"},
		{"time", "現在幾點", "2025年03月01日 14點30分"},
		{"identity", "你是誰", "語音對話機器人"},
		{"farewell", "掰掰", "再見"},
		{"thanks", "謝謝你", "不客氣"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Reply(ctx, tc.message, nil)
			if err != nil {
				t.Fatalf("Reply() error = %v", err)
			}
			if !strings.Contains(got, tc.want) {
				t.Fatalf("Reply(%q) = %q, want substring %q", tc.message, got, tc.want)
			}
		})
	}
}

func TestRuleReplierDefaultEchoesMessage(t *testing.T) {
	r := NewRuleReplier()
	got, err := r.Reply(context.Background(), "量子力學", nil)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if got == "" {
		t.Fatalf("default reply is empty")
	}
}

func TestFailoverPrefersPrimary(t *testing.T) {
	primary := &scriptedReplier{reply: "primary"}
	fallback := &scriptedReplier{reply: "fallback"}
	f := NewFailoverReplier(primary, fallback)

	got, err := f.Reply(context.Background(), "hi", nil)
	if err != nil || got != "primary" {
		t.Fatalf("Reply() = %q, %v, want primary", got, err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback called %d times, want 0", fallback.calls)
	}
}

func TestFailoverSticksToFallbackAfterPrimaryFailure(t *testing.T) {
	primary := &scriptedReplier{err: errors.New("llm down")}
	fallback := &scriptedReplier{reply: "fallback"}
	f := NewFailoverReplier(primary, fallback)
	ctx := context.Background()

	if got, err := f.Reply(ctx, "hi", nil); err != nil || got != "fallback" {
		t.Fatalf("first Reply() = %q, %v, want fallback", got, err)
	}
	if got, err := f.Reply(ctx, "hi again", nil); err != nil || got != "fallback" {
		t.Fatalf("second Reply() = %q, %v, want fallback", got, err)
	}
	// Primary is only probed once while fallback is healthy.
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1", primary.calls)
	}
}

func TestFailoverRetriesPrimaryWhenFallbackDies(t *testing.T) {
	primary := &scriptedReplier{err: errors.New("llm down")}
	fallback := &scriptedReplier{reply: "fallback"}
	f := NewFailoverReplier(primary, fallback)
	ctx := context.Background()

	if _, err := f.Reply(ctx, "hi", nil); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}

	primary.err = nil
	primary.reply = "primary back"
	fallback.err = errors.New("rules broke somehow")

	got, err := f.Reply(ctx, "hi", nil)
	if err != nil || got != "primary back" {
		t.Fatalf("Reply() = %q, %v, want recovered primary", got, err)
	}

	// Primary stays active after recovery.
	fallback.err = nil
	if got, _ := f.Reply(ctx, "hi", nil); got != "primary back" {
		t.Fatalf("Reply() after recovery = %q, want primary", got)
	}
}

func TestFailoverBothFail(t *testing.T) {
	primary := &scriptedReplier{err: errors.New("llm down")}
	fallback := &scriptedReplier{err: errors.New("rules down")}
	f := NewFailoverReplier(primary, fallback)

	if _, err := f.Reply(context.Background(), "hi", nil); err == nil {
		t.Fatalf("Reply() succeeded with both repliers failing")
	}
}
