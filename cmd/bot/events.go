package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-reply/internal/logging"
)

// maxEventPayload caps how much of a gateway payload is logged.
const maxEventPayload = 2048

// sensitiveKeys lists JSON keys which should never be logged in plaintext.
var sensitiveKeys = map[string]struct{}{
	"token": {}, "session_id": {}, "access_token": {}, "refresh_token": {},
	"authorization": {}, "password": {}, "email": {}, "client_secret": {},
}

// redactAny replaces values of sensitive keys in a decoded JSON value, in
// place.
func redactAny(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		for k, val := range vv {
			if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
				vv[k] = "<redacted>"
				continue
			}
			vv[k] = redactAny(val)
		}
		return vv
	case []any:
		for i, it := range vv {
			vv[i] = redactAny(it)
		}
		return vv
	default:
		return v
	}
}

// gatewayEventFields turns a raw gateway event into log fields: the common
// ids plus a redacted, truncated payload.
func gatewayEventFields(evt *discordgo.Event) []any {
	fields := []any{"type", evt.Type}
	var m map[string]any
	if err := json.Unmarshal(evt.RawData, &m); err != nil {
		return append(fields, "payload", "<undecodable>")
	}
	for _, k := range []string{"guild_id", "channel_id", "user_id"} {
		if s, ok := m[k].(string); ok && s != "" {
			fields = append(fields, strings.Replace(k, "_id", ".id", 1), s)
		}
	}
	payload, err := json.Marshal(redactAny(m))
	if err != nil {
		return fields
	}
	if len(payload) > maxEventPayload {
		payload = append(payload[:maxEventPayload:maxEventPayload], fmt.Sprintf("<truncated %d bytes>", len(payload))...)
	}
	return append(fields, "payload", string(payload))
}

// logGatewayEvent logs voice-relevant gateway traffic at debug level.
func logGatewayEvent(evt *discordgo.Event) {
	if evt == nil {
		return
	}
	switch evt.Type {
	case "VOICE_STATE_UPDATE", "VOICE_SERVER_UPDATE", "GUILD_CREATE", "READY", "RESUMED":
		logging.Debugw("discord event", gatewayEventFields(evt)...)
	}
}
