package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/discord-voice-reply/internal/logging"
)

type capturePair struct {
	jsonPath string
	wavPath  string
	mod      time.Time
}

// Clean removes sidecar/WAV pairs older than retention, then the oldest
// pairs beyond maxFiles. It returns the number of pairs removed.
func (s *Store) Clean(retention time.Duration, maxFiles int) (int, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return 0, err
	}
	var pairs []capturePair
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		jsonPath := filepath.Join(s.Dir, name)
		pairs = append(pairs, capturePair{
			jsonPath: jsonPath,
			wavPath:  strings.TrimSuffix(jsonPath, ".json") + ".wav",
			mod:      info.ModTime(),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	remove := func(p capturePair) {
		_ = os.Remove(p.jsonPath)
		_ = os.Remove(p.wavPath)
		removed++
	}
	cutoff := s.now().Add(-retention)
	kept := pairs[:0]
	for _, p := range pairs {
		if retention > 0 && p.mod.Before(cutoff) {
			remove(p)
			continue
		}
		kept = append(kept, p)
	}
	if maxFiles > 0 && len(kept) > maxFiles {
		for _, p := range kept[:len(kept)-maxFiles] {
			remove(p)
		}
	}
	return removed, nil
}

// StartCleaner runs Clean every interval until ctx ends.
func (s *Store) StartCleaner(ctx context.Context, interval, retention time.Duration, maxFiles int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Clean(retention, maxFiles)
			if err != nil {
				logging.Debugw("capture: cleanup failed", "dir", s.Dir, "err", err)
				continue
			}
			if n > 0 {
				logging.Infow("capture: removed old captures", "dir", s.Dir, "removed", n)
			}
		}
	}
}
