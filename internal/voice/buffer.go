package voice

import "github.com/discord-voice-reply/internal/audio"

var (
	// DefaultWarmupBytes is 300 ms of 48 kHz stereo audio.
	DefaultWarmupBytes = audio.CaptureBytes(300)
	// DefaultPartialFlushBytes is 2 s of 48 kHz stereo audio.
	DefaultPartialFlushBytes = audio.CaptureBytes(2000)
)

// speakerBuffer accumulates one speaker's audio. The first warmup bytes of
// each utterance are discarded to skip decoder ramp-up; after that every
// appended byte counts toward the partial flush threshold.
type speakerBuffer struct {
	pcm             []byte
	warmupRemaining int
	tickBytes       int

	warmupBytes  int
	partialBytes int
}

func newSpeakerBuffer(warmupBytes, partialBytes int) *speakerBuffer {
	return &speakerBuffer{
		warmupRemaining: warmupBytes,
		warmupBytes:     warmupBytes,
		partialBytes:    partialBytes,
	}
}

func (b *speakerBuffer) warming() bool { return b.warmupRemaining > 0 }

// append adds a chunk and returns the buffered audio when the partial flush
// threshold is reached.
func (b *speakerBuffer) append(chunk []byte) ([]byte, bool) {
	if b.warmupRemaining > 0 {
		drop := min(len(chunk), b.warmupRemaining)
		b.warmupRemaining -= drop
		chunk = chunk[drop:]
	}
	if len(chunk) == 0 {
		return nil, false
	}
	b.pcm = append(b.pcm, chunk...)
	b.tickBytes += len(chunk)
	if b.partialBytes > 0 && b.tickBytes >= b.partialBytes {
		return b.take(), true
	}
	return nil, false
}

// flushFinal empties the buffer and re-arms warm-up for the next utterance.
func (b *speakerBuffer) flushFinal() []byte {
	out := b.take()
	b.warmupRemaining = b.warmupBytes
	return out
}

func (b *speakerBuffer) take() []byte {
	out := b.pcm
	b.pcm = nil
	b.tickBytes = 0
	return out
}
