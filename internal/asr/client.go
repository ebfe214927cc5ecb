// Package asr talks to the remote speech recognizer.
package asr

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/discord-voice-reply/internal/audio"
	"github.com/discord-voice-reply/internal/logging"
)

const (
	HeaderTimestamp     = "X-Ts"
	HeaderSignature     = "X-Sign"
	HeaderCorrelationID = "X-Correlation-ID"
)

// ErrEmptyAudio is returned by TranscribeErr for zero-length input.
var ErrEmptyAudio = errors.New("empty audio")

// Client posts 16 kHz mono PCM16 to a recognizer and decodes the result.
type Client struct {
	BaseURL    string
	Secret     []byte
	Timeout    time.Duration
	MaxSeconds int
	HTTP       *http.Client

	now func() time.Time

	requests atomic.Int64
	failures atomic.Int64
}

// NewClient returns a client for baseURL. An empty secret disables signing.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Timeout:    timeout,
		MaxSeconds: 15,
		HTTP:       &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	if secret != "" {
		c.Secret = []byte(secret)
	}
	return c
}

// Sign returns the signature headers for body at ts. Without a secret it
// returns nil.
func (c *Client) Sign(body []byte, ts time.Time) map[string]string {
	if len(c.Secret) == 0 {
		return nil
	}
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, c.Secret)
	mac.Write([]byte(stamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return map[string]string{
		HeaderTimestamp: stamp,
		HeaderSignature: hex.EncodeToString(mac.Sum(nil)),
	}
}

// Transcribe never fails: errors are logged and reported as an empty
// transcript so a bad utterance cannot stall the pipeline.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, language string) Transcript {
	out, err := c.TranscribeErr(ctx, pcm, language)
	if err != nil && !errors.Is(err, ErrEmptyAudio) {
		logging.WarnwCtx(ctx, "asr: transcription failed; treating as empty", "err", err, "bytes", len(pcm))
		return Transcript{}
	}
	return out
}

// TranscribeErr is Transcribe with the underlying error exposed.
func (c *Client) TranscribeErr(ctx context.Context, pcm []byte, language string) (Transcript, error) {
	if len(pcm) == 0 {
		return Transcript{}, ErrEmptyAudio
	}
	if limit := c.MaxSeconds * audio.RecognizerBytesPerSecond; c.MaxSeconds > 0 && len(pcm) > limit {
		logging.DebugwCtx(ctx, "asr: trimming segment to recognizer limit", "bytes", len(pcm), "limit", limit)
		pcm = pcm[len(pcm)-limit:]
	}

	reqBody := transcribeRequest{
		PCM16Base64: base64.StdEncoding.EncodeToString(pcm),
		SampleRate:  audio.RecognizerRate,
		Temperature: 0.0,
		BeamSize:    1,
	}
	if language != "" {
		reqBody.Language = &language
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Transcript{}, fmt.Errorf("encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return Transcript{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Sign(body, c.now()) {
		req.Header.Set(k, v)
	}
	if cid, ok := correlationID(ctx); ok {
		req.Header.Set(HeaderCorrelationID, cid)
	}

	c.requests.Add(1)
	sent := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.failures.Add(1)
		return Transcript{}, fmt.Errorf("post transcribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.failures.Add(1)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Transcript{}, fmt.Errorf("recognizer status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out Transcript
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.failures.Add(1)
		return Transcript{}, fmt.Errorf("decode response: %w", err)
	}
	out.Text = strings.TrimSpace(out.Text)
	logging.DebugwCtx(ctx, "asr: response received",
		"latency_ms", time.Since(sent).Milliseconds(), "asr_ms", out.ASRMs, "duration_s", out.DurationS, "text_len", len(out.Text))
	return out, nil
}

// Preload asks the recognizer to load its model ahead of the first
// utterance and returns the reported status payload.
func (c *Client) Preload(ctx context.Context) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.BaseURL+"/preload", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("preload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("preload status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("preload decode: %w", err)
	}
	return out, nil
}

// Stats returns the request and failure counters.
func (c *Client) Stats() (requests, failures int64) {
	return c.requests.Load(), c.failures.Load()
}

type cidKey struct{}

// WithCorrelationID tags ctx so requests carry X-Correlation-ID.
func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, cidKey{}, cid)
}

func correlationID(ctx context.Context) (string, bool) {
	cid, ok := ctx.Value(cidKey{}).(string)
	return cid, ok && cid != ""
}
