// Package pipeline chains recognition, reply generation, and synthesis into
// the voice dialogue loop, attributing failures and latency to the stage
// that produced them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voxlink/voxlink/internal/audio"
	"github.com/voxlink/voxlink/internal/chat"
	"github.com/voxlink/voxlink/internal/convo"
	"github.com/voxlink/voxlink/internal/speaker"
	"github.com/voxlink/voxlink/internal/stt"
	"github.com/voxlink/voxlink/internal/synth"
)

type Stage string

const (
	StageRecognition Stage = "recognition"
	StageGeneration  Stage = "generation"
	StageSynthesis   Stage = "synthesis"
)

// StageError attributes a pipeline failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

var ErrEmptyTranscript = errors.New("recognized no speech")

// Result is the outcome of one dialogue turn. On a synthesis failure the
// text fields are still populated so callers can fall back to text-only
// delivery.
type Result struct {
	ConversationID string
	Transcript     string
	Reply          string
	Audio          audio.Clip
	StageTimings   map[Stage]time.Duration
}

// VoiceRequest is one spoken turn.
type VoiceRequest struct {
	Audio          []byte
	ConversationID string
	Speaker        string
	GuidanceScale  *float64

	// OnStage streams stage completions as they happen: output carries the
	// transcript after recognition and the reply after generation.
	OnStage func(stage Stage, output string, elapsed time.Duration)
}

// TextRequest is one typed turn that still wants spoken output.
type TextRequest struct {
	Text           string
	ConversationID string
	Speaker        string
	GuidanceScale  *float64

	OnStage func(stage Stage, output string, elapsed time.Duration)
}

// ControllerConfig carries the dialogue loop's tunables. A zero timeout
// leaves the corresponding backend call bounded only by the request context.
type ControllerConfig struct {
	Language        string
	DefaultGuidance float64
	STTTimeout      time.Duration
	ChatTimeout     time.Duration
}

// Controller owns the dialogue loop. The observer, when set, sees every
// stage completion and is used for latency metrics.
type Controller struct {
	recognizer stt.Recognizer
	replier    chat.Replier
	dispatcher *synth.Dispatcher
	registry   *speaker.Registry
	store      convo.Store
	cfg        ControllerConfig

	Observer func(stage Stage, elapsed time.Duration, err error)

	// OnConversations, when set, receives the active conversation count
	// after every change to the store.
	OnConversations func(active int)
}

func NewController(
	recognizer stt.Recognizer,
	replier chat.Replier,
	dispatcher *synth.Dispatcher,
	registry *speaker.Registry,
	store convo.Store,
	cfg ControllerConfig,
) *Controller {
	return &Controller{
		recognizer: recognizer,
		replier:    replier,
		dispatcher: dispatcher,
		registry:   registry,
		store:      store,
		cfg:        cfg,
	}
}

// VoiceChat runs the full spoken loop: recognize audio, generate a reply in
// the conversation's context, and synthesize the reply in the requested
// voice.
func (c *Controller) VoiceChat(ctx context.Context, req VoiceRequest) (Result, error) {
	res := Result{StageTimings: make(map[Stage]time.Duration)}

	transcript, elapsed, err := c.transcribe(ctx, req.Audio)
	res.StageTimings[StageRecognition] = elapsed
	c.observe(StageRecognition, elapsed, err)
	if err != nil {
		return res, &StageError{Stage: StageRecognition, Err: err}
	}
	res.Transcript = transcript
	if req.OnStage != nil {
		req.OnStage(StageRecognition, transcript, elapsed)
	}

	return c.respond(ctx, res, TextRequest{
		Text:           transcript,
		ConversationID: req.ConversationID,
		Speaker:        req.Speaker,
		GuidanceScale:  req.GuidanceScale,
		OnStage:        req.OnStage,
	})
}

// TextChat runs the typed variant of the loop: no recognition stage, same
// generation and synthesis behavior.
func (c *Controller) TextChat(ctx context.Context, req TextRequest) (Result, error) {
	res := Result{StageTimings: make(map[Stage]time.Duration)}
	res.Transcript = strings.TrimSpace(req.Text)
	if res.Transcript == "" {
		return res, &StageError{Stage: StageGeneration, Err: errors.New("empty message")}
	}
	req.Text = res.Transcript
	return c.respond(ctx, res, req)
}

// respond runs generation then synthesis for an already-known user message.
func (c *Controller) respond(ctx context.Context, res Result, req TextRequest) (Result, error) {
	start := time.Now()
	convID, reply, err := c.Chat(ctx, req.ConversationID, req.Text)
	elapsed := time.Since(start)
	res.StageTimings[StageGeneration] = elapsed
	c.observe(StageGeneration, elapsed, err)
	if err != nil {
		return res, &StageError{Stage: StageGeneration, Err: err}
	}
	res.ConversationID = convID
	res.Reply = reply
	if req.OnStage != nil {
		req.OnStage(StageGeneration, reply, elapsed)
	}

	start = time.Now()
	clip, _, err := c.Speak(ctx, reply, req.Speaker, req.GuidanceScale)
	elapsed = time.Since(start)
	res.StageTimings[StageSynthesis] = elapsed
	c.observe(StageSynthesis, elapsed, err)
	if err != nil {
		// Text fields stay populated: the turn is recorded and usable even
		// when audio rendering failed.
		return res, &StageError{Stage: StageSynthesis, Err: err}
	}
	res.Audio = clip
	if req.OnStage != nil {
		req.OnStage(StageSynthesis, "", elapsed)
	}
	return res, nil
}

// Transcribe recognizes speech from WAV bytes.
func (c *Controller) Transcribe(ctx context.Context, audioBytes []byte) (string, error) {
	transcript, elapsed, err := c.transcribe(ctx, audioBytes)
	c.observe(StageRecognition, elapsed, err)
	if err != nil {
		return "", &StageError{Stage: StageRecognition, Err: err}
	}
	return transcript, nil
}

func (c *Controller) transcribe(ctx context.Context, audioBytes []byte) (string, time.Duration, error) {
	start := time.Now()
	if len(audioBytes) == 0 {
		return "", time.Since(start), errors.New("empty audio payload")
	}
	callCtx := ctx
	if c.cfg.STTTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.STTTimeout)
		defer cancel()
	}
	transcript, err := c.recognizer.Transcribe(callCtx, audioBytes, c.cfg.Language)
	elapsed := time.Since(start)
	if err != nil {
		return "", elapsed, err
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", elapsed, ErrEmptyTranscript
	}
	return transcript, elapsed, nil
}

// Chat generates a reply within a conversation. The exchange is recorded
// only after the replier succeeds, so failed turns leave no history.
func (c *Controller) Chat(ctx context.Context, conversationID, message string) (string, string, error) {
	convID, history, err := c.store.GetOrCreate(ctx, conversationID)
	if err != nil {
		return "", "", fmt.Errorf("load conversation: %w", err)
	}
	callCtx := ctx
	if c.cfg.ChatTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.ChatTimeout)
		defer cancel()
	}
	reply, err := c.replier.Reply(callCtx, message, history)
	if err != nil {
		return convID, "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return convID, "", errors.New("replier produced empty reply")
	}
	if err := c.store.AppendExchange(ctx, convID, message, reply); err != nil {
		return convID, "", fmt.Errorf("record exchange: %w", err)
	}
	c.publishConversationCount(ctx)
	return convID, reply, nil
}

// Speak synthesizes text in the referenced voice, resolving the speaker and
// applying the default guidance scale when none was given.
func (c *Controller) Speak(ctx context.Context, text, speakerRef string, guidance *float64) (audio.Clip, *speaker.Speaker, error) {
	sp, err := c.registry.Resolve(speakerRef)
	if err != nil {
		return audio.Clip{}, nil, err
	}
	scale := c.cfg.DefaultGuidance
	if guidance != nil {
		scale = *guidance
	}
	clip, err := c.dispatcher.Synthesize(ctx, synth.Request{
		Text:    text,
		Speaker: sp,
		Params:  synth.Params{GuidanceScale: scale},
	})
	if err != nil {
		return audio.Clip{}, sp, err
	}
	return clip, sp, nil
}

// Reset clears a conversation, reporting whether it existed.
func (c *Controller) Reset(ctx context.Context, conversationID string) (bool, error) {
	existed, err := c.store.Clear(ctx, conversationID)
	if err == nil && existed {
		c.publishConversationCount(ctx)
	}
	return existed, err
}

// ResetAll clears every active conversation and reports how many were
// dropped.
func (c *Controller) ResetAll(ctx context.Context) (int, error) {
	ids, err := c.store.Active(ctx)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, id := range ids {
		existed, err := c.store.Clear(ctx, id)
		if err != nil {
			return cleared, err
		}
		if existed {
			cleared++
		}
	}
	if cleared > 0 {
		c.publishConversationCount(ctx)
	}
	return cleared, nil
}

// ActiveConversations lists conversations with recorded history.
func (c *Controller) ActiveConversations(ctx context.Context) ([]string, error) {
	return c.store.Active(ctx)
}

func (c *Controller) observe(stage Stage, elapsed time.Duration, err error) {
	if c.Observer != nil {
		c.Observer(stage, elapsed, err)
	}
}

func (c *Controller) publishConversationCount(ctx context.Context) {
	if c.OnConversations == nil {
		return
	}
	ids, err := c.store.Active(ctx)
	if err != nil {
		return
	}
	c.OnConversations(len(ids))
}
