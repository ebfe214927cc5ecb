package main

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func fieldMap(kv []any) map[string]string {
	m := make(map[string]string)
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		v, _ := kv[i+1].(string)
		m[k] = v
	}
	return m
}

func TestGatewayEventFieldsRedactsSecrets(t *testing.T) {
	evt := &discordgo.Event{
		Type:    "VOICE_SERVER_UPDATE",
		RawData: []byte(`{"guild_id":"g1","token":"secret-token","endpoint":"x.discord.media","nested":{"Session_ID":"abc"}}`),
	}
	f := fieldMap(gatewayEventFields(evt))
	if f["guild.id"] != "g1" {
		t.Fatalf("guild id missing: %v", f)
	}
	if strings.Contains(f["payload"], "secret-token") || strings.Contains(f["payload"], "abc") {
		t.Fatalf("payload leaked a secret: %s", f["payload"])
	}
	if !strings.Contains(f["payload"], "x.discord.media") {
		t.Fatalf("payload lost a plain field: %s", f["payload"])
	}
}

func TestGatewayEventFieldsTruncates(t *testing.T) {
	evt := &discordgo.Event{
		Type:    "GUILD_CREATE",
		RawData: []byte(`{"name":"` + strings.Repeat("a", 3*maxEventPayload) + `"}`),
	}
	f := fieldMap(gatewayEventFields(evt))
	if !strings.Contains(f["payload"], "<truncated") || len(f["payload"]) > maxEventPayload+64 {
		t.Fatalf("payload not truncated, len=%d", len(f["payload"]))
	}
}

func TestGatewayEventFieldsUndecodable(t *testing.T) {
	f := fieldMap(gatewayEventFields(&discordgo.Event{Type: "X", RawData: []byte("not json")}))
	if f["type"] != "X" || f["payload"] != "<undecodable>" {
		t.Fatalf("unexpected fields %v", f)
	}
}
