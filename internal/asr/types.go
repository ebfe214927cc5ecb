package asr

// Segment is a timed span of the transcript, in seconds from segment start.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ModelInfo describes the recognizer that served a request.
type ModelInfo struct {
	Name        string `json:"name"`
	Device      string `json:"device"`
	ComputeType string `json:"compute_type"`
}

// Transcript is the recognizer response. A zero Transcript (empty Text)
// stands for "nothing recognised", including failed requests.
type Transcript struct {
	Text      string    `json:"text"`
	Segments  []Segment `json:"segments"`
	Language  *string   `json:"language"`
	DurationS float64   `json:"duration_s"`
	ASRMs     int       `json:"asr_ms"`
	Model     ModelInfo `json:"model"`
}

// transcribeRequest mirrors the recognizer's request schema.
type transcribeRequest struct {
	PCM16Base64 string  `json:"pcm16_base64"`
	SampleRate  int     `json:"sample_rate"`
	Language    *string `json:"language"`
	Temperature float64 `json:"temperature"`
	BeamSize    int     `json:"beam_size"`
}
