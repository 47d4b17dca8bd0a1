// Package httpapi exposes the dialogue pipeline over HTTP and websocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voxlink/voxlink/internal/chat"
	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/observability"
	"github.com/voxlink/voxlink/internal/pipeline"
	"github.com/voxlink/voxlink/internal/speaker"
	"github.com/voxlink/voxlink/internal/stt"
	"github.com/voxlink/voxlink/internal/synth"
)

// Services carries everything the handlers need. Recognizer, Replier and
// Dispatcher are also held directly so readiness can be reported per
// component.
type Services struct {
	Controller *pipeline.Controller
	Registry   *speaker.Registry
	Recognizer stt.Recognizer
	Replier    chat.Replier
	Dispatcher *synth.Dispatcher
}

type Server struct {
	cfg      config.Config
	svc      Services
	metrics  *observability.Metrics
	window   *observability.StageWindow
	upgrader websocket.Upgrader
}

func New(cfg config.Config, svc Services, metrics *observability.Metrics, window *observability.StageWindow) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: metrics,
		window:  window,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// often omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/health/{service}", s.handleServiceHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/stt", s.handleSTT)
	r.Post("/v1/tts", s.handleTTS)
	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/voice-chat", s.handleVoiceChat)
	r.Post("/v1/text-chat", s.handleTextChat)
	r.Get("/v1/voice-chat/ws", s.handleVoiceChatWS)

	r.Get("/v1/speakers", s.handleListSpeakers)
	r.Post("/v1/speakers", s.handleRegisterSpeaker)
	r.Delete("/v1/speakers/{id}", s.handleDeregisterSpeaker)
	r.Post("/v1/speakers/{id}/default", s.handleSetDefaultSpeaker)

	r.Get("/v1/conversations", s.handleListConversations)
	r.Post("/v1/conversations/reset", s.handleResetConversation)

	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "voxlink",
		"status":  "ok",
	})
}

// handleServiceHealth reports readiness for one component. "llm" is an
// accepted alias for the chat service.
func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	service := strings.ToLower(chi.URLParam(r, "service"))
	var ready bool
	switch service {
	case "stt":
		ready = s.svc.Recognizer != nil && s.svc.Recognizer.Ready()
	case "chat", "llm":
		ready = s.svc.Replier != nil && s.svc.Replier.Ready()
	case "tts":
		ready = s.svc.Dispatcher != nil && s.svc.Dispatcher.Ready()
	default:
		respondError(w, http.StatusNotFound, "unknown_service", "expected stt, chat or tts")
		return
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{"service": service, "ready": ready})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"services": map[string]bool{
			"stt":  s.svc.Recognizer != nil && s.svc.Recognizer.Ready(),
			"chat": s.svc.Replier != nil && s.svc.Replier.Ready(),
			"tts":  s.svc.Dispatcher != nil && s.svc.Dispatcher.Ready(),
		},
		"speakers": s.svc.Registry.Len(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.svc.Recognizer != nil && s.svc.Recognizer.Ready() &&
		s.svc.Replier != nil && s.svc.Replier.Ready() &&
		s.svc.Dispatcher != nil && s.svc.Dispatcher.Ready()
	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	respondJSON(w, status, map[string]any{"status": state})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// stageErrorStatus maps a pipeline failure to an HTTP status: client input
// problems are 400s, backend failures are 502s.
func stageErrorStatus(err error) (int, string) {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		if errors.Is(err, pipeline.ErrEmptyTranscript) {
			return http.StatusBadRequest, "empty_transcript"
		}
		switch stageErr.Stage {
		case pipeline.StageRecognition:
			return http.StatusBadGateway, "recognition_failed"
		case pipeline.StageGeneration:
			return http.StatusBadGateway, "generation_failed"
		case pipeline.StageSynthesis:
			return http.StatusBadGateway, "synthesis_failed"
		}
	}
	if errors.Is(err, speaker.ErrAudioNotFound) || errors.Is(err, speaker.ErrNoSpeakerAvailable) {
		return http.StatusNotFound, "speaker_not_found"
	}
	return http.StatusInternalServerError, "internal_error"
}
