package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/voxlink/voxlink/internal/audio"
)

// ExecBackend shells out to a synthesis command. The request is written as
// one JSON object to stdin; the command must print a JSON object with
// base64 PCM16 samples on stdout.
type ExecBackend struct {
	cmd        []string
	sampleRate int
	channels   int
}

func NewExecBackend(command string, sampleRate, channels int) (*ExecBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command is empty")
	}
	return &ExecBackend{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

type execSynthRequest struct {
	Text                string  `json:"text"`
	ReferenceAudio      string  `json:"reference_audio"`
	ReferenceTranscript string  `json:"reference_transcript,omitempty"`
	GuidanceScale       float64 `json:"guidance_scale"`
	SampleRate          int     `json:"sample_rate"`
}

type execSynthResponse struct {
	PCM        string `json:"pcm"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

func (b *ExecBackend) Synthesize(ctx context.Context, req BackendRequest) (audio.Clip, error) {
	payload, err := json.Marshal(execSynthRequest{
		Text:                req.Text,
		ReferenceAudio:      base64.StdEncoding.EncodeToString(req.ReferenceAudio),
		ReferenceTranscript: req.ReferenceTranscript,
		GuidanceScale:       req.GuidanceScale,
		SampleRate:          b.sampleRate,
	})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("encode tts request: %w", err)
	}

	command := exec.CommandContext(ctx, b.cmd[0], b.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return audio.Clip{}, fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}

	var resp execSynthResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return audio.Clip{}, fmt.Errorf("decode tts response: %w", err)
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCM)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("decode pcm payload: %w", err)
	}
	if len(pcm) == 0 {
		return audio.Clip{}, fmt.Errorf("tts command produced no audio")
	}

	rate := resp.SampleRate
	if rate == 0 {
		rate = b.sampleRate
	}
	channels := resp.Channels
	if channels == 0 {
		channels = b.channels
	}
	return audio.Clip{PCM: pcm, SampleRate: rate, Channels: channels}, nil
}

func (b *ExecBackend) Ready() bool { return len(b.cmd) > 0 }
