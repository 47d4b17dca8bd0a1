package httpapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voxlink/voxlink/internal/audio"
	"github.com/voxlink/voxlink/internal/pipeline"
)

// maxAudioUpload bounds uploaded reference and utterance audio at 20 MiB.
const maxAudioUpload = 20 << 20

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	payload, err := readAudioUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}

	start := time.Now()
	text, err := s.svc.Controller.Transcribe(r.Context(), payload)
	if err != nil {
		status, code := stageErrorStatus(err)
		s.countRequest("stt", "error")
		respondError(w, status, code, err.Error())
		return
	}
	s.countRequest("stt", "ok")
	respondJSON(w, http.StatusOK, map[string]any{
		"text":               text,
		"processing_time_ms": time.Since(start).Milliseconds(),
	})
}

type ttsRequest struct {
	Text          string   `json:"text"`
	Speaker       string   `json:"speaker,omitempty"`
	GuidanceScale *float64 `json:"guidance_scale,omitempty"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}

	start := time.Now()
	clip, _, err := s.svc.Controller.Speak(r.Context(), req.Text, req.Speaker, req.GuidanceScale)
	elapsed := time.Since(start)
	if err != nil {
		status, code := stageErrorStatus(err)
		s.countRequest("tts", "error")
		respondError(w, status, code, err.Error())
		return
	}
	s.countRequest("tts", "ok")
	if s.metrics != nil {
		s.metrics.SynthesizedAudio.Add(clip.Duration().Seconds())
	}

	wav, err := audio.EncodeWAV(clip)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Processing-Time", strconv.FormatInt(elapsed.Milliseconds(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "empty_message", "message is required")
		return
	}

	convID, reply, err := s.svc.Controller.Chat(r.Context(), req.ConversationID, strings.TrimSpace(req.Message))
	if err != nil {
		s.countRequest("chat", "error")
		respondError(w, http.StatusBadGateway, "generation_failed", err.Error())
		return
	}
	s.countRequest("chat", "ok")
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": convID,
		"reply":           reply,
	})
}

// turnResponse is the shared payload for voice-chat and text-chat. AudioWAV
// is base64 WAV bytes and is empty when synthesis failed.
type turnResponse struct {
	ConversationID string           `json:"conversation_id,omitempty"`
	Transcript     string           `json:"transcript,omitempty"`
	Reply          string           `json:"reply,omitempty"`
	AudioWAV       string           `json:"audio_wav,omitempty"`
	TimingsMS      map[string]int64 `json:"timings_ms,omitempty"`
	Error          string           `json:"error,omitempty"`
	Code           string           `json:"code,omitempty"`
}

func (s *Server) handleVoiceChat(w http.ResponseWriter, r *http.Request) {
	payload, err := readAudioUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}
	guidance, err := parseGuidance(r.FormValue("guidance_scale"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_guidance_scale", err.Error())
		return
	}

	start := time.Now()
	res, err := s.svc.Controller.VoiceChat(r.Context(), pipeline.VoiceRequest{
		Audio:          payload,
		ConversationID: r.FormValue("conversation_id"),
		Speaker:        r.FormValue("speaker"),
		GuidanceScale:  guidance,
	})
	s.finishTurn(w, "voice_chat", res, err, time.Since(start))
}

type textChatRequest struct {
	Message        string   `json:"message"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Speaker        string   `json:"speaker,omitempty"`
	GuidanceScale  *float64 `json:"guidance_scale,omitempty"`
}

func (s *Server) handleTextChat(w http.ResponseWriter, r *http.Request) {
	var req textChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	start := time.Now()
	res, err := s.svc.Controller.TextChat(r.Context(), pipeline.TextRequest{
		Text:           req.Message,
		ConversationID: req.ConversationID,
		Speaker:        req.Speaker,
		GuidanceScale:  req.GuidanceScale,
	})
	s.finishTurn(w, "text_chat", res, err, time.Since(start))
}

// finishTurn renders a pipeline result. A synthesis failure still carries
// the transcript and reply so clients can fall back to text.
func (s *Server) finishTurn(w http.ResponseWriter, entry string, res pipeline.Result, err error, total time.Duration) {
	resp := turnResponse{
		ConversationID: res.ConversationID,
		Transcript:     res.Transcript,
		Reply:          res.Reply,
		TimingsMS:      timingsMS(res, total),
	}
	if err != nil {
		status, code := stageErrorStatus(err)
		resp.Error = err.Error()
		resp.Code = code
		s.countRequest(entry, "error")
		respondJSON(w, status, resp)
		return
	}

	s.observeTurnTotal(total)
	s.countRequest(entry, "ok")
	if s.metrics != nil {
		s.metrics.SynthesizedAudio.Add(res.Audio.Duration().Seconds())
	}
	wav, encErr := audio.EncodeWAV(res.Audio)
	if encErr != nil {
		resp.Error = encErr.Error()
		resp.Code = "encode_failed"
		respondJSON(w, http.StatusInternalServerError, resp)
		return
	}
	resp.AudioWAV = base64.StdEncoding.EncodeToString(wav)
	respondJSON(w, http.StatusOK, resp)
}

func timingsMS(res pipeline.Result, total time.Duration) map[string]int64 {
	out := make(map[string]int64, len(res.StageTimings)+1)
	for stage, d := range res.StageTimings {
		out[string(stage)] = d.Milliseconds()
	}
	out["total"] = total.Milliseconds()
	return out
}

func (s *Server) observeTurnTotal(total time.Duration) {
	if s.window != nil {
		s.window.ObserveDuration("turn_total", total)
	}
}

func (s *Server) countRequest(entry, outcome string) {
	if s.metrics != nil {
		s.metrics.PipelineRequests.WithLabelValues(entry, outcome).Inc()
	}
}

// readAudioUpload accepts either a multipart form with an "audio" file or a
// raw audio body.
func readAudioUpload(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		file, _, err := r.FormFile("audio")
		if err != nil {
			return nil, errors.New("multipart field audio is required")
		}
		defer file.Close()
		payload, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
		if err != nil {
			return nil, fmt.Errorf("read audio: %w", err)
		}
		if len(payload) == 0 {
			return nil, errors.New("audio file is empty")
		}
		return payload, nil
	}

	defer r.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxAudioUpload))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(payload) == 0 {
		return nil, errors.New("audio payload is empty")
	}
	return payload, nil
}

func parseGuidance(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("guidance_scale: %w", err)
	}
	return &v, nil
}
