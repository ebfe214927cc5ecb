package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusClient calls the status tools of a running bot.
type StatusClient struct {
	client  *sdk.Client
	session *sdk.ClientSession
}

func NewStatusClient(name, version string) *StatusClient {
	return &StatusClient{client: sdk.NewClient(&sdk.Implementation{Name: name, Version: version}, nil)}
}

// Connect dials rawurl; http(s) schemes are rewritten to ws(s) and a bare
// host gets the /mcp/ws path.
func (c *StatusClient) Connect(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/mcp/ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	sess, err := c.client.Connect(ctx, NewWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mcp connect: %w", err)
	}
	c.session = sess
	return nil
}

// Call invokes a tool and decodes its JSON text result into out.
func (c *StatusClient) Call(ctx context.Context, tool string, args map[string]any, out any) error {
	if c.session == nil {
		return errors.New("mcp: not connected")
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return err
	}
	var text strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*sdk.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return fmt.Errorf("mcp: tool %s failed: %s", tool, text.String())
	}
	if out == nil {
		return nil
	}
	data := []byte(text.String())
	if len(data) == 0 && res.StructuredContent != nil {
		if data, err = json.Marshal(res.StructuredContent); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, out)
}

func (c *StatusClient) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
