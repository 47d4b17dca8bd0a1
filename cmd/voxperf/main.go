// Command voxperf drives dialogue turns against a running voxlink server
// over the websocket endpoint and reports per-stage latency percentiles.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL        string
	turns          int
	mode           string
	speaker        string
	conversationID string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultUtterances = []string{
	"現在幾點",
	"今天天氣如何",
	"你可以做什麼",
	"謝謝你",
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "voxperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	var texts string
	flag.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "voxlink server base URL")
	flag.IntVar(&opts.turns, "turns", 4, "number of dialogue turns to run")
	flag.StringVar(&opts.mode, "mode", "text", "turn mode: text or voice")
	flag.StringVar(&opts.speaker, "speaker", "", "speaker id or reference audio path")
	flag.StringVar(&opts.conversationID, "conversation", "", "reuse a conversation id across turns")
	flag.DurationVar(&opts.interTurnDelay, "inter-turn-delay", 250*time.Millisecond, "pause between turns")
	flag.DurationVar(&opts.turnTimeout, "turn-timeout", 60*time.Second, "per-turn timeout")
	flag.StringVar(&texts, "texts", "", "semicolon separated utterances (defaults to a built-in set)")
	flag.BoolVar(&opts.verbose, "v", false, "log every stage event")
	flag.Parse()

	if opts.turns < 1 {
		return opts, fmt.Errorf("-turns must be at least 1")
	}
	switch opts.mode {
	case "text", "voice":
	default:
		return opts, fmt.Errorf("-mode must be text or voice")
	}
	opts.texts = defaultUtterances
	if strings.TrimSpace(texts) != "" {
		opts.texts = nil
		for _, t := range strings.Split(texts, ";") {
			if t = strings.TrimSpace(t); t != "" {
				opts.texts = append(opts.texts, t)
			}
		}
		if len(opts.texts) == 0 {
			return opts, fmt.Errorf("-texts produced no usable utterances")
		}
	}
	return opts, nil
}

func run(opts options) error {
	wsURL, err := websocketURL(opts.baseURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	collected := make(map[string][]float64)
	conversationID := opts.conversationID

	for turn := 0; turn < opts.turns; turn++ {
		text := opts.texts[turn%len(opts.texts)]
		msg := map[string]any{
			"conversation_id": conversationID,
			"speaker":         opts.speaker,
		}
		if opts.mode == "voice" {
			msg["type"] = "voice_turn"
			msg["audio"] = base64.StdEncoding.EncodeToString(syntheticWAV(500 * time.Millisecond))
		} else {
			msg["type"] = "text_turn"
			msg["message"] = text
		}

		start := time.Now()
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("turn %d: write: %w", turn+1, err)
		}

		deadline := time.Now().Add(opts.turnTimeout)
		for {
			_ = conn.SetReadDeadline(deadline)
			var event map[string]any
			if err := conn.ReadJSON(&event); err != nil {
				return fmt.Errorf("turn %d: read: %w", turn+1, err)
			}
			switch event["type"] {
			case "stage":
				stage, _ := event["stage"].(string)
				if ms, ok := event["elapsed_ms"].(float64); ok {
					collected[stage] = append(collected[stage], ms)
				}
				if opts.verbose {
					fmt.Printf("turn %d stage %-12s %6.0f ms\n", turn+1, stage, event["elapsed_ms"])
				}
				continue
			case "turn_result":
				total := time.Since(start)
				collected["turn_total"] = append(collected["turn_total"], float64(total.Milliseconds()))
				if errText, _ := event["error"].(string); errText != "" {
					fmt.Printf("turn %d failed: %s\n", turn+1, errText)
				} else if opts.verbose {
					fmt.Printf("turn %d reply: %v\n", turn+1, event["reply"])
				}
				if id, _ := event["conversation_id"].(string); id != "" {
					conversationID = id
				}
			case "error":
				return fmt.Errorf("turn %d: server error: %v", turn+1, event["error"])
			default:
				continue
			}
			break
		}
		time.Sleep(opts.interTurnDelay)
	}

	printReport(collected)
	return fetchServerSnapshot(opts.baseURL)
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice-chat/ws"
	return u.String(), nil
}

func printReport(collected map[string][]float64) {
	stages := make([]string, 0, len(collected))
	for stage := range collected {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	fmt.Println()
	fmt.Printf("%-14s %7s %9s %9s %9s\n", "stage", "samples", "avg_ms", "p50_ms", "p95_ms")
	for _, stage := range stages {
		samples := collected[stage]
		fmt.Printf("%-14s %7d %9.1f %9.1f %9.1f\n",
			stage, len(samples), mean(samples), percentile(samples, 0.50), percentile(samples, 0.95))
	}
}

func fetchServerSnapshot(baseURL string) error {
	res, err := http.Get(strings.TrimRight(baseURL, "/") + "/v1/perf/latency")
	if err != nil {
		return fmt.Errorf("fetch server latency snapshot: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("latency snapshot status %d", res.StatusCode)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		return fmt.Errorf("decode latency snapshot: %w", err)
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println()
	fmt.Println("server window:")
	fmt.Println(string(out))
	return nil
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func percentile(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// syntheticWAV builds a 16kHz mono PCM16 sine burst so voice mode has a
// well-formed utterance to send without shipping fixture files.
func syntheticWAV(d time.Duration) []byte {
	const sampleRate = 16000
	frames := int(float64(sampleRate) * d.Seconds())
	pcm := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*220*float64(i)/sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	var out []byte
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(pcm)))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint32(out, sampleRate)
	out = binary.LittleEndian.AppendUint32(out, sampleRate*2)
	out = binary.LittleEndian.AppendUint16(out, 2)
	out = binary.LittleEndian.AppendUint16(out, 16)
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(pcm)))
	out = append(out, pcm...)
	return out
}
