package config

import (
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv(envMap(nil))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.ReplyCooldown != 5*time.Second {
		t.Fatalf("cooldown: want 5s got %v", c.ReplyCooldown)
	}
	if c.ReplyWindowSize != 3 || c.ReplyMinFragments != 2 || c.HistoryMaxTurns != 10 {
		t.Fatalf("unexpected conversation defaults: %+v", c)
	}
	if c.ASRTimeout != 10*time.Second {
		t.Fatalf("asr timeout: want 10s got %v", c.ASRTimeout)
	}
	if c.Warmup != 300*time.Millisecond || c.PartialFlush != 2*time.Second {
		t.Fatalf("unexpected buffer defaults: warmup=%v partial=%v", c.Warmup, c.PartialFlush)
	}
	if c.SaveAudioDir != "" {
		t.Fatalf("save audio should be disabled by default, got %q", c.SaveAudioDir)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	c, err := FromEnv(envMap(map[string]string{
		"ASR_URL":            "https://asr.example/",
		"ASR_HMAC_SECRET":    "s3cret",
		"ASR_TIMEOUT_MS":     "2500",
		"REPLY_COOLDOWN":     "4.5",
		"ALLOWED_USER_IDS":   " 1, 2 ,,3",
		"SAVE_AUDIO_ENABLED": "true",
		"SAVE_AUDIO_DIR":     "/tmp/caps",
		"VAD_BACKEND":        "Energy",
		"LLM_TEMPERATURE":    "0.2",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.ASRURL != "https://asr.example" {
		t.Fatalf("trailing slash not trimmed: %q", c.ASRURL)
	}
	if c.ASRTimeout != 2500*time.Millisecond {
		t.Fatalf("asr timeout: %v", c.ASRTimeout)
	}
	if c.ReplyCooldown != 4500*time.Millisecond {
		t.Fatalf("cooldown: %v", c.ReplyCooldown)
	}
	if strings.Join(c.AllowedUserIDs, "|") != "1|2|3" {
		t.Fatalf("allowed users: %v", c.AllowedUserIDs)
	}
	if c.SaveAudioDir != "/tmp/caps" {
		t.Fatalf("save dir: %q", c.SaveAudioDir)
	}
	if c.VADBackend != "energy" {
		t.Fatalf("vad backend: %q", c.VADBackend)
	}
	if c.LLMTemperature != 0.2 {
		t.Fatalf("temperature: %v", c.LLMTemperature)
	}
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"not_a_number", map[string]string{"REPLY_WINDOW_SIZE": "three"}},
		{"zero_window", map[string]string{"REPLY_WINDOW_SIZE": "0"}},
		{"min_exceeds_window", map[string]string{"REPLY_WINDOW_SIZE": "2", "REPLY_MIN_FRAGMENTS": "3"}},
		{"odd_history", map[string]string{"HISTORY_MAX_TURNS": "9"}},
		{"bad_vad_mode", map[string]string{"VAD_MODE": "7"}},
		{"bad_vad_backend", map[string]string{"VAD_BACKEND": "silero"}},
		{"bad_duration", map[string]string{"REPLY_COOLDOWN": "soon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromEnv(envMap(tc.env)); err == nil {
				t.Fatalf("expected error for %v", tc.env)
			}
		})
	}
}
