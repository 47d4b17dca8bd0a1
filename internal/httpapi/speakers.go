package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/voxlink/voxlink/internal/audio"
	"github.com/voxlink/voxlink/internal/speaker"
)

func (s *Server) handleListSpeakers(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"speakers": s.svc.Registry.List(),
	})
}

var speakerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// handleRegisterSpeaker accepts a multipart form with an "audio" file plus
// optional id, name, and transcript fields. The reference audio is persisted
// under the voices directory so speakers survive restarts.
func (s *Server) handleRegisterSpeaker(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("parse multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_audio", "multipart field audio is required")
		return
	}
	defer file.Close()

	id := strings.TrimSpace(r.FormValue("id"))
	if id == "" {
		base := filepath.Base(header.Filename)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if !speakerIDPattern.MatchString(id) {
		respondError(w, http.StatusBadRequest, "invalid_speaker_id",
			"speaker id must be 1-64 characters of letters, digits, hyphen or underscore")
		return
	}
	// Registration never replaces an existing voice: the registry keeps the
	// first reference audio for an id, so overwriting the file on disk would
	// desynchronize the two.
	if s.svc.Registry.Has(id) {
		respondError(w, http.StatusConflict, "speaker_exists",
			fmt.Sprintf("speaker %s is already registered; deregister it first", id))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}
	if len(payload) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_audio", "audio file is empty")
		return
	}
	// Uploads claiming to be WAV must parse; other formats pass through to
	// the backend untouched.
	if bytes.HasPrefix(payload, []byte("RIFF")) {
		if _, err := audio.DecodeWAV(payload); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
			return
		}
	}

	if err := os.MkdirAll(s.cfg.VoicesDir, 0o755); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	path := filepath.Join(s.cfg.VoicesDir, id+".wav")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	sp, err := s.svc.Registry.Register(id, r.FormValue("name"), path, r.FormValue("transcript"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "register_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, speaker.Info{ID: sp.ID, Name: sp.Name, Path: sp.AudioPath})
}

func (s *Server) handleDeregisterSpeaker(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_speaker_id", "missing speaker id")
		return
	}
	if !s.svc.Registry.Deregister(id) {
		respondError(w, http.StatusNotFound, "speaker_not_found", fmt.Sprintf("speaker %s is not registered", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"removed": id})
}

func (s *Server) handleSetDefaultSpeaker(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.svc.Registry.SetDefault(id); err != nil {
		if errors.Is(err, speaker.ErrNoSpeakerAvailable) {
			respondError(w, http.StatusNotFound, "speaker_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"default": id})
}

type resetConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

// handleResetConversation clears one conversation when an id is given, or
// every active conversation otherwise.
func (s *Server) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	var req resetConversationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if strings.TrimSpace(req.ConversationID) == "" {
		cleared, err := s.svc.Controller.ResetAll(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
		return
	}

	existed, err := s.svc.Controller.Reset(r.Context(), req.ConversationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": req.ConversationID,
		"existed":         existed,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.Controller.ActiveConversations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": ids})
}
