package voice

import (
	"context"
	"time"

	"github.com/discord-voice-reply/internal/asr"
	"github.com/discord-voice-reply/internal/audio"
	"github.com/discord-voice-reply/internal/logging"
)

// recognize converts a flushed 48 kHz stereo segment to 16 kHz mono, drops
// non-speech frames when a classifier is configured and sends the result to
// the recognizer. It runs off the loop.
func (s *Session) recognize(ctx context.Context, seg segment) asr.Transcript {
	ctx = logging.WithFields(ctx, "correlation_id", seg.correlationID, "user.id", seg.speaker)
	ctx = asr.WithCorrelationID(ctx, seg.correlationID)
	start := time.Now()

	mono := audio.Downsample48kStereo(seg.pcm)
	pcm := mono
	var vad audio.FilterResult
	if s.opts.Classifier != nil {
		vad = audio.FilterVoiced(mono, s.opts.Classifier)
		pcm = vad.Audio
		logging.DebugwCtx(ctx, "voice: vad filtered segment",
			"frames", vad.Frames, "voiced_frames", vad.VoicedFrames, "fallback", vad.Fallback, "bytes_in", len(mono), "bytes_out", len(pcm))
	}

	tr := s.deps.Recognizer.Transcribe(ctx, pcm, s.opts.Language)
	elapsed := time.Since(start)
	if tr.Text == "" {
		logging.DebugwCtx(ctx, "voice: empty transcript", "final", seg.final, "latency_ms", elapsed.Milliseconds())
	} else {
		logging.InfowCtx(ctx, "voice: transcript", "final", seg.final, "text_len", len(tr.Text), "asr_ms", tr.ASRMs, "latency_ms", elapsed.Milliseconds())
	}

	if s.deps.Recorder != nil {
		meta := map[string]any{
			"user_id":          seg.speaker,
			"final":            seg.final,
			"flushed_at_utc":   seg.flushedAt.UTC().Format(time.RFC3339Nano),
			"capture_bytes":    len(seg.pcm),
			"capture_ms":       audio.CaptureDurationMs(len(seg.pcm)),
			"vad_enabled":      s.opts.Classifier != nil,
			"vad_frames":       vad.Frames,
			"vad_voiced":       vad.VoicedFrames,
			"vad_fallback":     vad.Fallback,
			"transcript":       tr.Text,
			"asr_ms":           tr.ASRMs,
			"asr_model":        tr.Model.Name,
			"asr_roundtrip_ms": elapsed.Milliseconds(),
		}
		if err := s.deps.Recorder.SaveSegment(seg.correlationID, seg.speaker, pcm, meta); err != nil {
			logging.WarnwCtx(ctx, "voice: failed to save segment", "err", err)
		}
	}
	return tr
}
