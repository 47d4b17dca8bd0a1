package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/voxlink/voxlink/internal/chat"
	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/convo"
	"github.com/voxlink/voxlink/internal/httpapi"
	"github.com/voxlink/voxlink/internal/observability"
	"github.com/voxlink/voxlink/internal/pipeline"
	"github.com/voxlink/voxlink/internal/speaker"
	"github.com/voxlink/voxlink/internal/stt"
	"github.com/voxlink/voxlink/internal/synth"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(256)

	ctx := context.Background()
	store, err := convo.NewStore(ctx, cfg.DatabaseURL, cfg.MaxTurns)
	if err != nil {
		log.Fatalf("conversation store init failed: %v", err)
	}
	defer store.Close()
	if cfg.DatabaseURL != "" {
		log.Printf("conversation store: postgres")
	} else {
		log.Printf("conversation store: in-memory")
	}

	recognizer := buildRecognizer(cfg)
	backend := buildBackend(cfg)
	replier := buildReplier(cfg)

	registry := speaker.NewRegistry(recognizer, cfg.Language)
	loadSpeakers(registry, cfg)

	cache := synth.NewCache(cfg.CacheSize)
	dispatcher := synth.NewDispatcher(backend, cache, registry, synth.DispatcherConfig{
		SegmentThreshold: cfg.SegmentThreshold,
		SegmentBudget:    cfg.SegmentBudget,
		MaxConcurrent:    cfg.MaxConcurrent,
		CallTimeout:      cfg.SynthTimeout,
		MergeGap:         cfg.MergeGap,
	})
	dispatcher.OnCacheLookup = metrics.ObserveCacheLookup

	controller := pipeline.NewController(recognizer, replier, dispatcher, registry, store, pipeline.ControllerConfig{
		Language:        cfg.Language,
		DefaultGuidance: cfg.GuidanceScale,
		STTTimeout:      cfg.STTTimeout,
		ChatTimeout:     cfg.ChatTimeout,
	})
	controller.Observer = func(stage pipeline.Stage, elapsed time.Duration, err error) {
		metrics.ObserveStage(string(stage), elapsed, err)
		if err == nil {
			window.ObserveDuration(string(stage), elapsed)
		}
	}
	controller.OnConversations = func(active int) {
		metrics.ActiveConversations.Set(float64(active))
	}

	api := httpapi.New(cfg, httpapi.Services{
		Controller: controller,
		Registry:   registry,
		Recognizer: recognizer,
		Replier:    replier,
		Dispatcher: dispatcher,
	}, metrics, window)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func buildRecognizer(cfg config.Config) stt.Recognizer {
	switch cfg.STTMode {
	case "exec":
		r, err := stt.NewExecRecognizer(cfg.STTCommand)
		if err != nil {
			log.Fatalf("stt init failed: %v", err)
		}
		log.Printf("stt: exec (%s)", firstWord(cfg.STTCommand))
		return r
	default:
		log.Printf("stt: mock")
		return stt.NewMockRecognizer("你好")
	}
}

func buildBackend(cfg config.Config) synth.Backend {
	switch cfg.TTSMode {
	case "exec":
		b, err := synth.NewExecBackend(cfg.TTSCommand, cfg.TTSSampleRate, cfg.TTSChannels)
		if err != nil {
			log.Fatalf("tts init failed: %v", err)
		}
		log.Printf("tts: exec (%s)", firstWord(cfg.TTSCommand))
		return b
	default:
		log.Printf("tts: mock")
		return synth.NewMockBackend(cfg.TTSSampleRate, cfg.TTSChannels)
	}
}

// buildReplier wires the dialogue model. In auto mode an OpenAI-compatible
// endpoint is the primary and the rule-based replier catches its failures;
// missing credentials fall back to rules only.
func buildReplier(cfg config.Config) chat.Replier {
	rule := chat.NewRuleReplier()

	openAI := func() chat.Replier {
		r, err := chat.NewOpenAIReplier(chat.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.ChatSystemPrompt,
		})
		if err != nil {
			return nil
		}
		return r
	}

	switch cfg.ChatMode {
	case "openai":
		primary := openAI()
		if primary == nil {
			log.Fatalf("CHAT_MODE=openai but OPENAI_API_KEY is not set")
		}
		log.Printf("chat: openai (%s) with rule fallback", cfg.OpenAIModel)
		return chat.NewFailoverReplier(primary, rule)
	case "rule":
		log.Printf("chat: rule-based")
		return rule
	default: // auto
		if primary := openAI(); primary != nil {
			log.Printf("chat: openai (%s) with rule fallback", cfg.OpenAIModel)
			return chat.NewFailoverReplier(primary, rule)
		}
		log.Printf("chat: rule-based (no openai key)")
		return rule
	}
}

// loadSpeakers registers the configured default voice and then anything
// already present in the voices directory.
func loadSpeakers(registry *speaker.Registry, cfg config.Config) {
	if cfg.DefaultSpeakerAudio != "" {
		sp, err := registry.Register("default", "Default", cfg.DefaultSpeakerAudio, cfg.DefaultSpeakerTranscript)
		if err != nil {
			log.Printf("default speaker unavailable: %v", err)
		} else {
			_ = registry.SetDefault(sp.ID)
		}
	}

	entries, err := os.ReadDir(cfg.VoicesDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("scan voices dir: %v", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.EqualFold(filepath.Ext(name), ".wav") {
			continue
		}
		if _, err := registry.Register("", "", filepath.Join(cfg.VoicesDir, name), ""); err != nil {
			log.Printf("skip voice %s: %v", name, err)
		}
	}
	log.Printf("speakers loaded: %d", registry.Len())
}

func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
