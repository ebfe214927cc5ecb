package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/discord-voice-reply/internal/audio"
	"github.com/discord-voice-reply/internal/logging"
)

var ErrNotFound = errors.New("capture: sidecar not found")

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Store writes each recognised segment as a 16 kHz mono WAV plus a JSON
// sidecar, and merges later facts (reply text, latencies) into the sidecar
// by correlation id.
type Store struct {
	Dir string

	mu    sync.Mutex
	index map[string]string
	now   func() time.Time
}

// NewStore returns nil when dir is empty; a nil Store must not be used.
func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &Store{Dir: dir, index: make(map[string]string), now: time.Now}, nil
}

func (s *Store) baseName(correlationID, speaker string) string {
	ts := s.now().UTC().Format("20060102T150405.000Z")
	return fmt.Sprintf("%s_%s_cid%s", ts, unsafeName.ReplaceAllString(speaker, "_"), correlationID)
}

// SaveSegment writes the WAV and its sidecar. meta is copied into the
// sidecar alongside correlation_id, wav_path and saved_utc.
func (s *Store) SaveSegment(correlationID, speaker string, pcm16k []byte, meta map[string]any) error {
	if correlationID == "" {
		return errors.New("capture: correlation id required")
	}
	base := filepath.Join(s.Dir, s.baseName(correlationID, speaker))
	wavPath := base + ".wav"
	jsonPath := base + ".json"

	if err := SaveFileAtomic(wavPath, audio.BuildWAV(pcm16k, audio.RecognizerRate, 1, 16), 0o644); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	sc := make(map[string]any, len(meta)+4)
	for k, v := range meta {
		sc[k] = v
	}
	sc["correlation_id"] = correlationID
	sc["speaker_id"] = speaker
	sc["wav_path"] = wavPath
	sc["saved_utc"] = s.now().UTC().Format(time.RFC3339Nano)
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := SaveFileAtomic(jsonPath, b, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	s.index[correlationID] = jsonPath
	logging.Debugw("capture: saved segment", "path", wavPath, "correlation_id", correlationID, "bytes", len(pcm16k))
	return nil
}

// Merge adds fields to the sidecar of correlationID, overwriting existing
// keys, and rewrites it atomically.
func (s *Store) Merge(correlationID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.findLocked(correlationID)
	if path == "" {
		return fmt.Errorf("%w: cid=%s dir=%s", ErrNotFound, correlationID, s.Dir)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sidecar %s: %w", path, err)
	}
	var sc map[string]any
	if err := json.Unmarshal(raw, &sc); err != nil {
		return fmt.Errorf("invalid sidecar JSON %s: %w", path, err)
	}
	for k, v := range fields {
		sc[k] = v
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar %s: %w", path, err)
	}
	if err := SaveFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("write sidecar %s: %w", path, err)
	}
	return nil
}

// Load returns the decoded sidecar for correlationID.
func (s *Store) Load(correlationID string) (map[string]any, error) {
	s.mu.Lock()
	path := s.findLocked(correlationID)
	s.mu.Unlock()
	if path == "" {
		return nil, ErrNotFound
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc map[string]any
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// findLocked checks the in-memory index, then falls back to the file name
// pattern so sidecars written by an earlier process are found too.
func (s *Store) findLocked(correlationID string) string {
	if correlationID == "" {
		return ""
	}
	if p, ok := s.index[correlationID]; ok {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		delete(s.index, correlationID)
	}
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*_cid"+correlationID+".json"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	s.index[correlationID] = matches[0]
	return matches[0]
}
