package audio

import "math"

const (
	decimation = CaptureRate / RecognizerRate
	firTaps    = 31
	// cutoff sits below the 8 kHz Nyquist of the output rate.
	firCutoffHz = 7200.0
)

// lowpass is a Hamming-windowed sinc normalised to unity DC gain.
var lowpass = designLowpass(firTaps, firCutoffHz/CaptureRate)

func designLowpass(taps int, fc float64) []float64 {
	h := make([]float64, taps)
	mid := float64(taps-1) / 2
	var sum float64
	for n := range h {
		x := float64(n) - mid
		var v float64
		if x == 0 {
			v = 2 * fc
		} else {
			v = math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
		}
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/float64(taps-1))
		h[n] = v * w
		sum += h[n]
	}
	for n := range h {
		h[n] /= sum
	}
	return h
}

// StereoToMono averages interleaved left/right samples. A dangling left
// sample without its right partner is dropped.
func StereoToMono(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = clip16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return mono
}

// Decimate48to16 low-pass filters 48 kHz mono and keeps every third
// sample. The output holds ceil(len(in)/3) samples; edges are zero padded.
func Decimate48to16(in []int16) []int16 {
	if len(in) == 0 {
		return []int16{}
	}
	n := (len(in) + decimation - 1) / decimation
	out := make([]int16, n)
	half := firTaps / 2
	for k := range out {
		center := k * decimation
		var acc float64
		for j, c := range lowpass {
			idx := center + j - half
			if idx < 0 || idx >= len(in) {
				continue
			}
			acc += c * float64(in[idx])
		}
		out[k] = clip16(int32(math.Round(acc)))
	}
	return out
}

// Downsample48kStereo converts raw 48 kHz 16-bit stereo bytes into 16 kHz
// 16-bit mono bytes ready for recognition.
func Downsample48kStereo(pcm []byte) []byte {
	if len(pcm) == 0 {
		return []byte{}
	}
	return SamplesToBytes(Decimate48to16(StereoToMono(BytesToSamples(pcm))))
}
