package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the dialogue service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// Speech recognition.
	STTMode    string // mock or exec
	STTCommand string
	STTTimeout time.Duration
	Language   string

	// Dialogue model.
	ChatMode         string // auto, openai or rule
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	ChatSystemPrompt string
	ChatTimeout      time.Duration
	MaxTurns         int

	// Synthesis.
	TTSMode          string // mock or exec
	TTSCommand       string
	TTSSampleRate    int
	TTSChannels      int
	SynthTimeout     time.Duration
	GuidanceScale    float64
	SegmentThreshold int
	SegmentBudget    int
	MaxConcurrent    int
	CacheSize        int
	MergeGap         time.Duration

	// Speakers.
	VoicesDir                string
	DefaultSpeakerAudio      string
	DefaultSpeakerTranscript string

	DatabaseURL string
}

const defaultSystemPrompt = "你是一個親切友善的語音助理，會用繁體中文回答問題。請保持回覆簡潔有趣，適合語音對話。"

// fileConfig mirrors the optional YAML config file. Environment variables
// override anything set here.
type fileConfig struct {
	BindAddr string `yaml:"bind_addr"`
	STT      struct {
		Mode     string `yaml:"mode"`
		Command  string `yaml:"command"`
		Language string `yaml:"language"`
	} `yaml:"stt"`
	Chat struct {
		Mode         string `yaml:"mode"`
		APIKey       string `yaml:"api_key"`
		BaseURL      string `yaml:"base_url"`
		Model        string `yaml:"model"`
		SystemPrompt string `yaml:"system_prompt"`
		MaxTurns     int    `yaml:"max_turns"`
	} `yaml:"chat"`
	TTS struct {
		Mode             string  `yaml:"mode"`
		Command          string  `yaml:"command"`
		SampleRate       int     `yaml:"sample_rate"`
		Channels         int     `yaml:"channels"`
		GuidanceScale    float64 `yaml:"guidance_scale"`
		SegmentThreshold int     `yaml:"segment_threshold"`
		SegmentBudget    int     `yaml:"segment_budget"`
		MaxConcurrent    int     `yaml:"max_concurrent_segments"`
		CacheSize        int     `yaml:"cache_size"`
		MergeGapMS       int     `yaml:"merge_gap_ms"`
	} `yaml:"tts"`
	Speakers struct {
		VoicesDir         string `yaml:"voices_dir"`
		DefaultAudio      string `yaml:"default_audio"`
		DefaultTranscript string `yaml:"default_transcript"`
	} `yaml:"speakers"`
	DatabaseURL string `yaml:"database_url"`
}

// Load reads the optional config file plus environment variables and applies
// safe defaults. Precedence: defaults < file < environment.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         ":8080",
		ShutdownTimeout:  15 * time.Second,
		MetricsNamespace: "voxlink",
		STTMode:          "mock",
		STTTimeout:       30 * time.Second,
		Language:         "zh",
		ChatMode:         "auto",
		OpenAIModel:      "gpt-4o-mini",
		ChatSystemPrompt: defaultSystemPrompt,
		ChatTimeout:      45 * time.Second,
		MaxTurns:         20,
		TTSMode:          "mock",
		TTSSampleRate:    16000,
		TTSChannels:      1,
		SynthTimeout:     90 * time.Second,
		GuidanceScale:    1.0,
		SegmentThreshold: 150,
		SegmentBudget:    100,
		MaxConcurrent:    3,
		CacheSize:        50,
		MergeGap:         200 * time.Millisecond,
		VoicesDir:        "./voices",
	}

	if path := trimmedEnv("VOXLINK_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.STTMode = envOrDefault("STT_MODE", cfg.STTMode)
	cfg.STTCommand = envOrDefault("STT_COMMAND", cfg.STTCommand)
	cfg.Language = envOrDefault("STT_LANGUAGE", cfg.Language)
	cfg.ChatMode = envOrDefault("CHAT_MODE", cfg.ChatMode)
	cfg.OpenAIAPIKey = firstNonEmpty(trimmedEnv("OPENAI_API_KEY"), cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = firstNonEmpty(trimmedEnv("OPENAI_BASE_URL"), cfg.OpenAIBaseURL)
	cfg.OpenAIModel = envOrDefault("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.ChatSystemPrompt = envOrDefault("CHAT_SYSTEM_PROMPT", cfg.ChatSystemPrompt)
	cfg.TTSMode = envOrDefault("TTS_MODE", cfg.TTSMode)
	cfg.TTSCommand = envOrDefault("TTS_COMMAND", cfg.TTSCommand)
	cfg.VoicesDir = envOrDefault("VOICES_DIR", cfg.VoicesDir)
	cfg.DefaultSpeakerAudio = firstNonEmpty(trimmedEnv("DEFAULT_SPEAKER_AUDIO"), cfg.DefaultSpeakerAudio)
	cfg.DefaultSpeakerTranscript = firstNonEmpty(trimmedEnv("DEFAULT_SPEAKER_TRANSCRIPT"), cfg.DefaultSpeakerTranscript)
	cfg.DatabaseURL = firstNonEmpty(trimmedEnv("DATABASE_URL"), cfg.DatabaseURL)

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.STTTimeout, err = durationFromEnv("STT_TIMEOUT", cfg.STTTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ChatTimeout, err = durationFromEnv("CHAT_TIMEOUT", cfg.ChatTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SynthTimeout, err = durationFromEnv("TTS_TIMEOUT", cfg.SynthTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MergeGap, err = durationFromEnv("TTS_MERGE_GAP", cfg.MergeGap); err != nil {
		return Config{}, err
	}
	if cfg.MaxTurns, err = intFromEnv("CHAT_MAX_TURNS", cfg.MaxTurns); err != nil {
		return Config{}, err
	}
	if cfg.TTSSampleRate, err = intFromEnv("TTS_SAMPLE_RATE", cfg.TTSSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.TTSChannels, err = intFromEnv("TTS_CHANNELS", cfg.TTSChannels); err != nil {
		return Config{}, err
	}
	if cfg.SegmentThreshold, err = intFromEnv("TTS_SEGMENT_THRESHOLD", cfg.SegmentThreshold); err != nil {
		return Config{}, err
	}
	if cfg.SegmentBudget, err = intFromEnv("TTS_SEGMENT_BUDGET", cfg.SegmentBudget); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrent, err = intFromEnv("TTS_MAX_CONCURRENT_SEGMENTS", cfg.MaxConcurrent); err != nil {
		return Config{}, err
	}
	if cfg.CacheSize, err = intFromEnv("TTS_CACHE_SIZE", cfg.CacheSize); err != nil {
		return Config{}, err
	}
	if cfg.GuidanceScale, err = floatFromEnv("TTS_GUIDANCE_SCALE", cfg.GuidanceScale); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxTurns <= 0 {
		return fmt.Errorf("CHAT_MAX_TURNS must be positive")
	}
	if c.SegmentThreshold <= 0 {
		return fmt.Errorf("TTS_SEGMENT_THRESHOLD must be positive")
	}
	if c.SegmentBudget <= 0 {
		return fmt.Errorf("TTS_SEGMENT_BUDGET must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("TTS_MAX_CONCURRENT_SEGMENTS must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("TTS_CACHE_SIZE must be positive")
	}
	if c.TTSSampleRate <= 0 || c.TTSChannels <= 0 {
		return fmt.Errorf("TTS_SAMPLE_RATE and TTS_CHANNELS must be positive")
	}
	if c.MergeGap < 0 {
		return fmt.Errorf("TTS_MERGE_GAP must not be negative")
	}
	switch c.STTMode {
	case "mock", "exec":
	default:
		return fmt.Errorf("invalid STT_MODE: %q (expected mock|exec)", c.STTMode)
	}
	switch c.TTSMode {
	case "mock", "exec":
	default:
		return fmt.Errorf("invalid TTS_MODE: %q (expected mock|exec)", c.TTSMode)
	}
	switch c.ChatMode {
	case "auto", "openai", "rule":
	default:
		return fmt.Errorf("invalid CHAT_MODE: %q (expected auto|openai|rule)", c.ChatMode)
	}
	if c.STTMode == "exec" && strings.TrimSpace(c.STTCommand) == "" {
		return fmt.Errorf("STT_MODE=exec requires STT_COMMAND")
	}
	if c.TTSMode == "exec" && strings.TrimSpace(c.TTSCommand) == "" {
		return fmt.Errorf("TTS_MODE=exec requires TTS_COMMAND")
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.BindAddr, fc.BindAddr)
	setString(&cfg.STTMode, fc.STT.Mode)
	setString(&cfg.STTCommand, fc.STT.Command)
	setString(&cfg.Language, fc.STT.Language)
	setString(&cfg.ChatMode, fc.Chat.Mode)
	setString(&cfg.OpenAIAPIKey, fc.Chat.APIKey)
	setString(&cfg.OpenAIBaseURL, fc.Chat.BaseURL)
	setString(&cfg.OpenAIModel, fc.Chat.Model)
	setString(&cfg.ChatSystemPrompt, fc.Chat.SystemPrompt)
	setInt(&cfg.MaxTurns, fc.Chat.MaxTurns)
	setString(&cfg.TTSMode, fc.TTS.Mode)
	setString(&cfg.TTSCommand, fc.TTS.Command)
	setInt(&cfg.TTSSampleRate, fc.TTS.SampleRate)
	setInt(&cfg.TTSChannels, fc.TTS.Channels)
	setInt(&cfg.SegmentThreshold, fc.TTS.SegmentThreshold)
	setInt(&cfg.SegmentBudget, fc.TTS.SegmentBudget)
	setInt(&cfg.MaxConcurrent, fc.TTS.MaxConcurrent)
	setInt(&cfg.CacheSize, fc.TTS.CacheSize)
	if fc.TTS.GuidanceScale > 0 {
		cfg.GuidanceScale = fc.TTS.GuidanceScale
	}
	if fc.TTS.MergeGapMS > 0 {
		cfg.MergeGap = time.Duration(fc.TTS.MergeGapMS) * time.Millisecond
	}
	setString(&cfg.VoicesDir, fc.Speakers.VoicesDir)
	setString(&cfg.DefaultSpeakerAudio, fc.Speakers.DefaultAudio)
	setString(&cfg.DefaultSpeakerTranscript, fc.Speakers.DefaultTranscript)
	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
