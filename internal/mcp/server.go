package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/discord-voice-reply/internal/logging"
	"github.com/discord-voice-reply/internal/voice"
)

// Source is the pipeline state exposed over MCP.
type Source interface {
	Stats() voice.Stats
	RecentReplies(n int) []voice.ReplyRecord
}

type StatsInput struct{}

type StatsOutput struct {
	Pipeline      voice.Stats      `json:"pipeline"`
	Counters      map[string]int64 `json:"counters,omitempty" jsonschema:"counters of the receiver, recognizer and dispatcher"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type RepliesInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of replies to return, newest last"`
}

type ReplyEntry struct {
	CorrelationID string `json:"correlation_id"`
	SpeakerID     string `json:"speaker_id"`
	SpeakerName   string `json:"speaker_name"`
	Utterance     string `json:"utterance"`
	Reply         string `json:"reply"`
	Failed        bool   `json:"failed"`
	At            string `json:"at"`
}

type RepliesOutput struct {
	Replies []ReplyEntry `json:"replies"`
}

// StatusServer exposes read-only pipeline status as MCP tools over a
// websocket at /mcp/ws, plus a plain /health probe.
type StatusServer struct {
	source   Source
	counters func() map[string]int64
	started  time.Time
	server   *sdk.Server
	upgrader websocket.Upgrader
}

// NewStatusServer registers the pipeline_stats and recent_replies tools.
// counters may be nil.
func NewStatusServer(source Source, counters func() map[string]int64) *StatusServer {
	s := &StatusServer{
		source:   source,
		counters: counters,
		started:  time.Now(),
		server:   sdk.NewServer(&sdk.Implementation{Name: "discord-voice-reply", Version: "v0.1.0"}, nil),
	}
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pipeline_stats",
		Description: "Counters of the voice pipeline: queued events, flushes, transcripts and replies.",
	}, s.pipelineStats)
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "recent_replies",
		Description: "The latest replies with the utterance that triggered them.",
	}, s.recentReplies)
	return s
}

func (s *StatusServer) pipelineStats(ctx context.Context, req *sdk.CallToolRequest, in StatsInput) (*sdk.CallToolResult, StatsOutput, error) {
	out := StatsOutput{
		Pipeline:      s.source.Stats(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.counters != nil {
		out.Counters = s.counters()
	}
	return nil, out, nil
}

func (s *StatusServer) recentReplies(ctx context.Context, req *sdk.CallToolRequest, in RepliesInput) (*sdk.CallToolResult, RepliesOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}
	recs := s.source.RecentReplies(limit)
	out := RepliesOutput{Replies: make([]ReplyEntry, 0, len(recs))}
	for _, r := range recs {
		out.Replies = append(out.Replies, ReplyEntry{
			CorrelationID: r.CorrelationID,
			SpeakerID:     r.SpeakerID,
			SpeakerName:   r.SpeakerName,
			Utterance:     r.Utterance,
			Reply:         r.Reply,
			Failed:        r.Failed,
			At:            r.At.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// Handler serves /health and /mcp/ws.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp/ws", s.serveWS)
	return mux
}

func (s *StatusServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("mcp: websocket upgrade failed", "err", err)
		return
	}
	go func() {
		ss, err := s.server.Connect(context.Background(), NewWebSocketTransport(conn), nil)
		if err != nil {
			logging.Warnw("mcp: server connect failed", "err", err)
			_ = conn.Close()
			return
		}
		if err := ss.Wait(); err != nil {
			logging.Debugw("mcp: session ended", "err", err)
		}
	}()
}

// ListenAndServe serves Handler on addr until ctx ends.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logging.Infow("mcp: status server listening", "addr", addr)
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
