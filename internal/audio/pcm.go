// Package audio holds the signal-processing stages that turn captured
// Discord audio (48 kHz, 16-bit, stereo) into recognizer input
// (16 kHz, 16-bit, mono) and drop non-speech frames.
package audio

import "encoding/binary"

const (
	CaptureRate     = 48000
	CaptureChannels = 2
	RecognizerRate  = 16000
	BytesPerSample  = 2

	// CaptureBytesPerSecond is the byte rate of 48 kHz 16-bit stereo PCM.
	CaptureBytesPerSecond = CaptureRate * CaptureChannels * BytesPerSample
	// RecognizerBytesPerSecond is the byte rate of 16 kHz 16-bit mono PCM.
	RecognizerBytesPerSecond = RecognizerRate * BytesPerSample
)

// BytesToSamples decodes little-endian PCM16. A trailing odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian PCM16.
func SamplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// CaptureDurationMs converts a byte count of 48 kHz stereo PCM to milliseconds.
func CaptureDurationMs(n int) int { return n * 1000 / CaptureBytesPerSecond }

// CaptureBytes returns the number of 48 kHz stereo bytes covering ms
// milliseconds, rounded down to a whole stereo frame.
func CaptureBytes(ms int) int {
	n := ms * CaptureBytesPerSecond / 1000
	return n - n%(CaptureChannels*BytesPerSample)
}

func clip16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
