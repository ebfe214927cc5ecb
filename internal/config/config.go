package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/discord-voice-reply/internal/logging"
)

// Config holds every tunable of the bot. Durations are already converted
// from their *_MS / Go-duration env representations.
type Config struct {
	DiscordToken    string
	GuildID         string
	VoiceChannelID  string
	OutputChannelID string
	AllowedUserIDs  []string

	ASRURL        string
	ASRHMACSecret string
	ASRTimeout    time.Duration
	ASRLanguage   string
	ASRMaxSeconds int

	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	LLMFallbackModel string
	LLMMaxTokens     int
	LLMTemperature   float64
	LLMTimeout       time.Duration

	ReplyCooldown      time.Duration
	ReplyWindowSize    int
	ReplyMinFragments  int
	HistoryMaxTurns    int
	Warmup             time.Duration
	PartialFlush       time.Duration
	VADBackend         string
	VADMode            int
	VADRMSThreshold    int
	SilenceFlush       time.Duration
	MaxWorkers         int
	MaxPendingSegments int

	SaveAudioDir       string
	SaveAudioRetention time.Duration
	SaveAudioMaxFiles  int

	MCPListenAddr string
}

// Defaults returns the configuration used when no env vars are set.
func Defaults() Config {
	return Config{
		ASRTimeout:         10 * time.Second,
		ASRMaxSeconds:      15,
		LLMBaseURL:         "https://api.openai.com/v1",
		LLMModel:           "gpt-4o-mini",
		LLMMaxTokens:       150,
		LLMTemperature:     0.7,
		LLMTimeout:         20 * time.Second,
		ReplyCooldown:      5 * time.Second,
		ReplyWindowSize:    3,
		ReplyMinFragments:  2,
		HistoryMaxTurns:    10,
		Warmup:             300 * time.Millisecond,
		PartialFlush:       2 * time.Second,
		VADBackend:         "webrtc",
		VADMode:            2,
		VADRMSThreshold:    500,
		SilenceFlush:       800 * time.Millisecond,
		MaxWorkers:         4,
		MaxPendingSegments: 4,
		SaveAudioRetention: 24 * time.Hour,
		SaveAudioMaxFiles:  500,
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warnw("config: failed to read .env file", "err", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function, starting from
// Defaults. Malformed values are reported, not silently ignored.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Defaults()
	p := parser{getenv: getenv}

	c.DiscordToken = p.str("DISCORD_BOT_TOKEN", c.DiscordToken)
	c.GuildID = p.str("GUILD_ID", c.GuildID)
	c.VoiceChannelID = p.str("VOICE_CHANNEL_ID", c.VoiceChannelID)
	c.OutputChannelID = p.str("OUTPUT_CHANNEL_ID", c.OutputChannelID)
	c.AllowedUserIDs = p.list("ALLOWED_USER_IDS")

	c.ASRURL = strings.TrimRight(p.str("ASR_URL", c.ASRURL), "/")
	c.ASRHMACSecret = p.str("ASR_HMAC_SECRET", c.ASRHMACSecret)
	c.ASRTimeout = p.millis("ASR_TIMEOUT_MS", c.ASRTimeout)
	c.ASRLanguage = p.str("ASR_LANGUAGE", c.ASRLanguage)
	c.ASRMaxSeconds = p.integer("ASR_MAX_SECONDS", c.ASRMaxSeconds)

	c.LLMBaseURL = strings.TrimRight(p.str("OPENAI_BASE_URL", c.LLMBaseURL), "/")
	c.LLMAPIKey = p.str("OPENAI_API_KEY", c.LLMAPIKey)
	c.LLMModel = p.str("OPENAI_MODEL", c.LLMModel)
	c.LLMFallbackModel = p.str("OPENAI_FALLBACK_MODEL", c.LLMFallbackModel)
	c.LLMMaxTokens = p.integer("LLM_MAX_TOKENS", c.LLMMaxTokens)
	c.LLMTemperature = p.float("LLM_TEMPERATURE", c.LLMTemperature)
	c.LLMTimeout = p.millis("LLM_TIMEOUT_MS", c.LLMTimeout)

	c.ReplyCooldown = p.duration("REPLY_COOLDOWN", c.ReplyCooldown)
	c.ReplyWindowSize = p.integer("REPLY_WINDOW_SIZE", c.ReplyWindowSize)
	c.ReplyMinFragments = p.integer("REPLY_MIN_FRAGMENTS", c.ReplyMinFragments)
	c.HistoryMaxTurns = p.integer("HISTORY_MAX_TURNS", c.HistoryMaxTurns)
	c.Warmup = p.millis("WARMUP_MS", c.Warmup)
	c.PartialFlush = p.millis("PARTIAL_FLUSH_MS", c.PartialFlush)
	c.VADBackend = strings.ToLower(p.str("VAD_BACKEND", c.VADBackend))
	c.VADMode = p.integer("VAD_MODE", c.VADMode)
	c.VADRMSThreshold = p.integer("VAD_RMS_THRESHOLD", c.VADRMSThreshold)
	c.SilenceFlush = p.millis("VOICE_SILENCE_FLUSH_MS", c.SilenceFlush)
	c.MaxWorkers = p.integer("PIPELINE_MAX_WORKERS", c.MaxWorkers)
	c.MaxPendingSegments = p.integer("PIPELINE_MAX_PENDING", c.MaxPendingSegments)

	if p.boolean("SAVE_AUDIO_ENABLED") {
		c.SaveAudioDir = p.str("SAVE_AUDIO_DIR", "")
	}
	c.SaveAudioRetention = p.duration("SAVE_AUDIO_RETENTION", c.SaveAudioRetention)
	c.SaveAudioMaxFiles = p.integer("SAVE_AUDIO_MAX_FILES", c.SaveAudioMaxFiles)

	c.MCPListenAddr = p.str("MCP_LISTEN_ADDR", c.MCPListenAddr)

	if len(p.errs) > 0 {
		return c, errors.Join(p.errs...)
	}
	return c, c.Validate()
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"REPLY_WINDOW_SIZE":    c.ReplyWindowSize,
		"REPLY_MIN_FRAGMENTS":  c.ReplyMinFragments,
		"HISTORY_MAX_TURNS":    c.HistoryMaxTurns,
		"LLM_MAX_TOKENS":       c.LLMMaxTokens,
		"PIPELINE_MAX_WORKERS": c.MaxWorkers,
		"PIPELINE_MAX_PENDING": c.MaxPendingSegments,
		"ASR_MAX_SECONDS":      c.ASRMaxSeconds,
	}
	for k, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", k, v))
		}
	}
	if c.ReplyMinFragments > c.ReplyWindowSize {
		errs = append(errs, fmt.Errorf("REPLY_MIN_FRAGMENTS (%d) cannot exceed REPLY_WINDOW_SIZE (%d)", c.ReplyMinFragments, c.ReplyWindowSize))
	}
	if c.HistoryMaxTurns%2 != 0 {
		errs = append(errs, fmt.Errorf("HISTORY_MAX_TURNS must be even to keep turns paired, got %d", c.HistoryMaxTurns))
	}
	if c.PartialFlush <= 0 {
		errs = append(errs, fmt.Errorf("PARTIAL_FLUSH_MS must be positive"))
	}
	if c.Warmup < 0 {
		errs = append(errs, fmt.Errorf("WARMUP_MS cannot be negative"))
	}
	switch c.VADBackend {
	case "webrtc", "energy", "off":
	default:
		errs = append(errs, fmt.Errorf("VAD_BACKEND must be webrtc, energy or off, got %q", c.VADBackend))
	}
	if c.VADMode < 0 || c.VADMode > 3 {
		errs = append(errs, fmt.Errorf("VAD_MODE must be within 0..3, got %d", c.VADMode))
	}
	return errors.Join(errs...)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) raw(key string) string { return strings.TrimSpace(p.getenv(key)) }

func (p *parser) str(key, def string) string {
	if v := p.raw(key); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := p.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s=%q: %w", key, v, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := p.raw(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s=%q: %w", key, v, err))
		return def
	}
	return f
}

func (p *parser) millis(key string, def time.Duration) time.Duration {
	v := p.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s=%q: %w", key, v, err))
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// duration accepts Go duration strings ("5s") or bare seconds ("5", "4.5").
func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.raw(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s=%q: expected duration", key, v))
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func (p *parser) boolean(key string) bool {
	switch strings.ToLower(p.raw(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (p *parser) list(key string) []string {
	v := p.raw(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
