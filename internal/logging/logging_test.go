package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCtxFieldsAreMerged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { SetLogger(noopLogger{}) })

	ctx := WithFields(context.Background(), "correlation_id", "c1")
	ctx = WithFields(ctx, "user.id", "u1")
	InfowCtx(ctx, "transcript", "text_len", 5)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	m := entries[0].ContextMap()
	if m["correlation_id"] != "c1" || m["user.id"] != "u1" || m["text_len"] != int64(5) {
		t.Fatalf("unexpected fields %v", m)
	}
}

func TestSetLoggerNilRestoresNoop(t *testing.T) {
	if sugar != nil {
		t.Skip("Init already ran in this process")
	}
	SetLogger(nil)
	if _, ok := GetLogger().(noopLogger); !ok {
		t.Fatalf("expected noop logger before Init, got %T", GetLogger())
	}
	Infow("dropped")
}

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		"WARNING": zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"":        zap.InfoLevel,
		"verbose": zap.InfoLevel,
	}
	for in, want := range cases {
		if got := levelFromEnv(in); got != want {
			t.Errorf("levelFromEnv(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFieldHelpers(t *testing.T) {
	if f := UserFields("u1", ""); len(f) != 2 {
		t.Fatalf("UserFields without name: %v", f)
	}
	if f := ChannelFields("c1", "general"); len(f) != 4 || f[3] != "general" {
		t.Fatalf("ChannelFields: %v", f)
	}
	f := SegmentFields("cid", 192000, true)
	if f[5] != 1000 {
		t.Fatalf("SegmentFields duration: %v", f)
	}
}
