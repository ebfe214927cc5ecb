package voice

import (
	"context"
	"testing"
	"time"
)

func TestWarmupDiscardsLeadingBytes(t *testing.T) {
	b := newSpeakerBuffer(DefaultWarmupBytes, DefaultPartialFlushBytes)
	if DefaultWarmupBytes != 57600 {
		t.Fatalf("warm-up should be 300ms of 48kHz stereo, got %d", DefaultWarmupBytes)
	}
	// 250ms stays entirely inside the warm-up window.
	if _, ok := b.append(make([]byte, 48000)); ok {
		t.Fatal("unexpected flush")
	}
	if len(b.pcm) != 0 || !b.warming() {
		t.Fatalf("warm-up bytes must be discarded, buffered=%d", len(b.pcm))
	}
	// Chunk straddling the end of warm-up keeps only the tail.
	b.append(make([]byte, 20000))
	if len(b.pcm) != 20000-9600 {
		t.Fatalf("expected %d buffered bytes, got %d", 20000-9600, len(b.pcm))
	}
	if out := b.flushFinal(); len(out) != 10400 {
		t.Fatalf("final flush returned %d bytes", len(out))
	}
	if b.warmupRemaining != DefaultWarmupBytes {
		t.Fatal("final flush must re-arm warm-up")
	}
}

func TestPartialFlushBoundary(t *testing.T) {
	b := newSpeakerBuffer(DefaultWarmupBytes, DefaultPartialFlushBytes)
	b.append(make([]byte, DefaultWarmupBytes))
	if _, ok := b.append(make([]byte, 383999)); ok {
		t.Fatal("383999 buffered bytes must not flush")
	}
	out, ok := b.append(make([]byte, 1))
	if !ok || len(out) != 384000 {
		t.Fatalf("384000 bytes must flush, ok=%v len=%d", ok, len(out))
	}
	if b.tickBytes != 0 || len(b.pcm) != 0 {
		t.Fatal("partial flush must reset the buffer")
	}
	if b.warming() {
		t.Fatal("partial flush must not re-arm warm-up")
	}
	if _, ok := b.append(make([]byte, 3840)); ok || len(b.pcm) != 3840 {
		t.Fatal("audio after a partial flush is buffered directly")
	}
}

func TestEmptyFinalFlush(t *testing.T) {
	b := newSpeakerBuffer(DefaultWarmupBytes, DefaultPartialFlushBytes)
	if out := b.flushFinal(); len(out) != 0 {
		t.Fatalf("expected no audio, got %d", len(out))
	}
}

func TestQueueFIFOAndClose(t *testing.T) {
	q := newEventQueue()
	for i := 0; i < 3; i++ {
		q.push(event{kind: eventPCM, timestamp: uint32(i)})
	}
	for i := 0; i < 3; i++ {
		ev, ok := q.pop(context.Background())
		if !ok || ev.timestamp != uint32(i) {
			t.Fatalf("pop %d: ok=%v ts=%d", i, ok, ev.timestamp)
		}
	}
	done := make(chan bool)
	go func() {
		_, ok := q.pop(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.close()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("pop after close should report false")
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not return after close")
	}
	if q.push(event{}) {
		t.Fatal("push after close should be rejected")
	}
}

func TestIngressDropsEmptyAndStart(t *testing.T) {
	q := newEventQueue()
	in := &Ingress{q: q}
	in.OnPCM("a", nil, 0)
	in.OnPCM("", []byte{1, 2}, 0)
	in.OnSpeakingState("a", true)
	if q.len() != 0 {
		t.Fatalf("nothing should be queued, got %d", q.len())
	}
	payload := []byte{1, 2, 3, 4}
	in.OnPCM("a", payload, 7)
	payload[0] = 9
	in.OnSpeakingState("a", false)
	ev, _ := q.pop(context.Background())
	if ev.kind != eventPCM || ev.payload[0] != 1 || ev.timestamp != 7 {
		t.Fatalf("payload must be copied: %+v", ev)
	}
	ev, _ = q.pop(context.Background())
	if ev.kind != eventFlush || ev.speaker != "a" {
		t.Fatalf("expected flush, got %+v", ev)
	}
}
