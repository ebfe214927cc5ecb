package audio

import (
	"fmt"
	"math"
	"sync"

	vad "github.com/maxhawkins/go-webrtc-vad"
)

const (
	// FrameBytes is one 20 ms frame of 16 kHz 16-bit mono audio.
	FrameBytes = RecognizerRate / 50 * BytesPerSample
	// MinVoicedBytes is 0.3 s of 16 kHz mono; shorter voiced output is
	// treated as a misclassification and the unfiltered audio is used.
	MinVoicedBytes = RecognizerBytesPerSecond * 3 / 10
)

// Classifier labels a single FrameBytes-long frame as speech or not.
type Classifier interface {
	IsSpeech(frame []byte) (bool, error)
}

// WebRTCClassifier wraps the WebRTC voice activity detector. The detector
// keeps internal state, so calls are serialised.
type WebRTCClassifier struct {
	mu  sync.Mutex
	vad *vad.VAD
}

// NewWebRTCClassifier creates a detector with aggressiveness mode 0..3
// (3 discards the most).
func NewWebRTCClassifier(mode int) (*WebRTCClassifier, error) {
	v, err := vad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("webrtc vad mode %d: %w", mode, err)
	}
	return &WebRTCClassifier{vad: v}, nil
}

func (w *WebRTCClassifier) IsSpeech(frame []byte) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vad.Process(RecognizerRate, frame)
}

// EnergyClassifier marks frames whose RMS reaches Threshold as speech.
type EnergyClassifier struct {
	Threshold int
}

func (e EnergyClassifier) IsSpeech(frame []byte) (bool, error) {
	samples := BytesToSamples(frame)
	if len(samples) == 0 {
		return false, nil
	}
	var sumSq int64
	for _, s := range samples {
		v := int64(s)
		sumSq += v * v
	}
	rms := int(math.Sqrt(float64(sumSq / int64(len(samples)))))
	return rms >= e.Threshold, nil
}

// FilterResult reports what FilterVoiced did with a segment.
type FilterResult struct {
	Audio        []byte
	Frames       int
	VoicedFrames int
	Fallback     bool
}

// FilterVoiced keeps the speech frames of 16 kHz mono audio in order and
// discards the trailing partial frame. When fewer than MinVoicedBytes
// survive, the unfiltered input is returned with Fallback set. Frames the
// classifier fails on are kept.
func FilterVoiced(mono []byte, c Classifier) FilterResult {
	res := FilterResult{}
	voiced := make([]byte, 0, len(mono))
	for off := 0; off+FrameBytes <= len(mono); off += FrameBytes {
		frame := mono[off : off+FrameBytes]
		res.Frames++
		speech, err := c.IsSpeech(frame)
		if err != nil || speech {
			voiced = append(voiced, frame...)
			res.VoicedFrames++
		}
	}
	if len(voiced) < MinVoicedBytes {
		res.Audio = mono
		res.Fallback = true
		return res
	}
	res.Audio = voiced
	return res
}
