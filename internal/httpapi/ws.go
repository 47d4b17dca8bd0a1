package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlink/voxlink/internal/audio"
	"github.com/voxlink/voxlink/internal/pipeline"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
)

type wsClientMessage struct {
	Type           string   `json:"type"`
	Audio          string   `json:"audio,omitempty"`
	Message        string   `json:"message,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Speaker        string   `json:"speaker,omitempty"`
	GuidanceScale  *float64 `json:"guidance_scale,omitempty"`
}

type wsStageEvent struct {
	Type      string `json:"type"`
	Stage     string `json:"stage"`
	Output    string `json:"output,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type wsErrorEvent struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type wsTurnResult struct {
	Type string `json:"type"`
	turnResponse
}

// handleVoiceChatWS runs dialogue turns over a websocket, streaming stage
// completions before the final result. Turns are processed one at a time,
// so all writes happen from this goroutine.
func (s *Server) handleVoiceChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxAudioUpload)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	writeJSON := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v) == nil
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !writeJSON(wsErrorEvent{Type: "error", Code: "invalid_client_message", Error: err.Error()}) {
				return
			}
			continue
		}

		onStage := func(stage pipeline.Stage, output string, elapsed time.Duration) {
			writeJSON(wsStageEvent{
				Type:      "stage",
				Stage:     string(stage),
				Output:    output,
				ElapsedMS: elapsed.Milliseconds(),
			})
		}

		start := time.Now()
		var res pipeline.Result
		var turnErr error

		switch strings.TrimSpace(msg.Type) {
		case "voice_turn":
			var payload []byte
			payload, turnErr = base64.StdEncoding.DecodeString(msg.Audio)
			if turnErr != nil {
				if !writeJSON(wsErrorEvent{Type: "error", Code: "invalid_audio", Error: turnErr.Error()}) {
					return
				}
				continue
			}
			res, turnErr = s.svc.Controller.VoiceChat(r.Context(), pipeline.VoiceRequest{
				Audio:          payload,
				ConversationID: msg.ConversationID,
				Speaker:        msg.Speaker,
				GuidanceScale:  msg.GuidanceScale,
				OnStage:        onStage,
			})
		case "text_turn":
			res, turnErr = s.svc.Controller.TextChat(r.Context(), pipeline.TextRequest{
				Text:           msg.Message,
				ConversationID: msg.ConversationID,
				Speaker:        msg.Speaker,
				GuidanceScale:  msg.GuidanceScale,
				OnStage:        onStage,
			})
		case "ping":
			if !writeJSON(map[string]string{"type": "pong"}) {
				return
			}
			continue
		default:
			if !writeJSON(wsErrorEvent{Type: "error", Code: "unknown_message_type", Error: "expected voice_turn, text_turn or ping"}) {
				return
			}
			continue
		}

		total := time.Since(start)
		result := wsTurnResult{
			Type: "turn_result",
			turnResponse: turnResponse{
				ConversationID: res.ConversationID,
				Transcript:     res.Transcript,
				Reply:          res.Reply,
				TimingsMS:      timingsMS(res, total),
			},
		}
		entry := "ws_" + strings.TrimSpace(msg.Type)
		if turnErr != nil {
			_, code := stageErrorStatus(turnErr)
			result.Error = turnErr.Error()
			result.Code = code
			s.countRequest(entry, "error")
		} else {
			s.observeTurnTotal(total)
			s.countRequest(entry, "ok")
			if wav, err := audio.EncodeWAV(res.Audio); err == nil {
				result.AudioWAV = base64.StdEncoding.EncodeToString(wav)
			}
			if s.metrics != nil {
				s.metrics.SynthesizedAudio.Add(res.Audio.Duration().Seconds())
			}
		}
		if !writeJSON(result) {
			return
		}
	}
}
