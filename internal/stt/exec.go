package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// ExecRecognizer shells out to a transcription command. The audio payload is
// written to a temp file whose path is appended via --audio; the command must
// print a single JSON object {"text": "..."} on stdout.
type ExecRecognizer struct {
	cmd []string
}

func NewExecRecognizer(command string) (*ExecRecognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &ExecRecognizer{cmd: args}, nil
}

type execTranscript struct {
	Text string `json:"text"`
}

func (r *ExecRecognizer) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	file, err := os.CreateTemp("", "voxlink_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(audio); err != nil {
		file.Close()
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close audio file: %w", err)
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if language != "" {
		args = append(args, "--language", language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execTranscript
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return resp.Text, nil
}

func (r *ExecRecognizer) Ready() bool { return len(r.cmd) > 0 }
