package mcp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/discord-voice-reply/internal/voice"
)

type fakeSource struct{}

func (fakeSource) Stats() voice.Stats {
	return voice.Stats{Enqueued: 42, Transcripts: 3, Replies: 1}
}

func (fakeSource) RecentReplies(n int) []voice.ReplyRecord {
	recs := []voice.ReplyRecord{
		{CorrelationID: "c1", SpeakerID: "u1", SpeakerName: "Ada", Utterance: "hi there", Reply: "hello", At: time.Unix(1700000000, 0)},
		{CorrelationID: "c2", SpeakerID: "u2", Utterance: "again", Reply: "sure"},
	}
	if n < len(recs) {
		recs = recs[len(recs)-n:]
	}
	return recs
}

func startStatusServer(t *testing.T) (*httptest.Server, *StatusClient) {
	t.Helper()
	srv := NewStatusServer(fakeSource{}, func() map[string]int64 { return map[string]int64{"receiver.packets": 7} })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewStatusClient("test", "v0")
	if err := c.Connect(ctx, ts.URL); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return ts, c
}

func TestHealth(t *testing.T) {
	ts, _ := startStatusServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "ok" {
		t.Fatalf("health: %d %q", resp.StatusCode, b)
	}
}

func TestPipelineStatsTool(t *testing.T) {
	_, c := startStatusServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out StatsOutput
	if err := c.Call(ctx, "pipeline_stats", nil, &out); err != nil {
		t.Fatalf("pipeline_stats: %v", err)
	}
	if out.Pipeline.Enqueued != 42 || out.Pipeline.Replies != 1 || out.Counters["receiver.packets"] != 7 {
		t.Fatalf("unexpected stats %+v", out)
	}
}

func TestRecentRepliesTool(t *testing.T) {
	_, c := startStatusServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out RepliesOutput
	if err := c.Call(ctx, "recent_replies", map[string]any{"limit": 1}, &out); err != nil {
		t.Fatalf("recent_replies: %v", err)
	}
	if len(out.Replies) != 1 || out.Replies[0].CorrelationID != "c2" {
		t.Fatalf("unexpected replies %+v", out.Replies)
	}
}
