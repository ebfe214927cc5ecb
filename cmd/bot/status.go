package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/discord-voice-reply/internal/mcp"
)

// runStatus implements `bot status`: it connects to a running bot's status
// server and prints pipeline counters and the latest replies as JSON.
func runStatus(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addr := fs.String("addr", envOr("MCP_STATUS_URL", "http://127.0.0.1:8765"), "status server URL")
	replies := fs.Int("replies", 5, "number of recent replies to show")
	timeout := fs.Duration("timeout", 5*time.Second, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := mcp.NewStatusClient("discord-voice-reply-status", "v0.1.0")
	if err := c.Connect(ctx, *addr); err != nil {
		fmt.Fprintln(os.Stderr, "status:", err)
		return 1
	}
	defer c.Close()

	var report struct {
		Stats   mcp.StatsOutput  `json:"stats"`
		Replies []mcp.ReplyEntry `json:"replies"`
	}
	if err := c.Call(ctx, "pipeline_stats", nil, &report.Stats); err != nil {
		fmt.Fprintln(os.Stderr, "status:", err)
		return 1
	}
	var rs mcp.RepliesOutput
	if err := c.Call(ctx, "recent_replies", map[string]any{"limit": *replies}, &rs); err != nil {
		fmt.Fprintln(os.Stderr, "status:", err)
		return 1
	}
	report.Replies = rs.Replies

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(os.Stderr, "status:", err)
		return 1
	}
	return 0
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
