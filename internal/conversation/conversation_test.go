package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/discord-voice-reply/llm"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func newCoordinator(c *fakeClock) *Coordinator {
	co := NewCoordinator(Options{})
	co.SetClock(c.now)
	return co
}

func TestSingleFragmentNeverEligible(t *testing.T) {
	clk := newClock()
	co := newCoordinator(clk)
	if _, ok := co.Observe("a", "hello"); ok {
		t.Fatal("one fragment must not trigger a reply")
	}
	clk.advance(time.Hour)
	if co.Eligible("a") {
		t.Fatal("one fragment must not be eligible regardless of elapsed time")
	}
}

func TestCooldownBoundary(t *testing.T) {
	clk := newClock()
	co := newCoordinator(clk)
	co.Observe("a", "one")
	trig, ok := co.Observe("a", "two")
	if !ok || trig.Utterance != "one two" {
		t.Fatalf("expected first reply, got ok=%v trig=%+v", ok, trig)
	}
	co.Complete("a", trig.Utterance, "reply")

	clk.advance(100 * time.Millisecond)
	co.Observe("a", "three")
	clk.advance(4890 * time.Millisecond) // 4.99s since the reply
	if _, ok := co.Observe("a", "four"); ok {
		t.Fatal("4.99s after a reply must not be eligible")
	}
	if co.Pending("a") != 2 {
		t.Fatalf("fragments should stay buffered, got %d", co.Pending("a"))
	}
	clk.advance(10 * time.Millisecond) // exactly 5.0s
	if !co.Eligible("a") {
		t.Fatal("5.0s with two fragments must be eligible")
	}
	trig, ok = co.Observe("a", "five")
	if !ok || trig.Utterance != "three four five" {
		t.Fatalf("unexpected trigger %+v ok=%v", trig, ok)
	}
	if co.Pending("a") != 0 {
		t.Fatal("window should be cleared after a reply")
	}
	if len(trig.History) != 2 {
		t.Fatalf("history snapshot should carry the first exchange, got %d", len(trig.History))
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := TranscriptWindow{Size: 3}
	for _, s := range []string{"a", "b", "c", "d"} {
		w.Push(s)
	}
	if w.Joined() != "b c d" {
		t.Fatalf("got %q", w.Joined())
	}
}

func TestInFlightBlocksEligibility(t *testing.T) {
	clk := newClock()
	co := newCoordinator(clk)
	co.Observe("a", "x")
	if _, ok := co.Observe("a", "y"); !ok {
		t.Fatal("expected trigger")
	}
	clk.advance(time.Minute)
	co.Observe("a", "z")
	if _, ok := co.Observe("a", "w"); ok {
		t.Fatal("no second reply while the first is in flight")
	}
	co.Complete("a", "x y", "ok")
	if !co.Eligible("a") {
		t.Fatal("eligible once the reply completed")
	}
}

func TestBlankTranscriptIgnored(t *testing.T) {
	co := newCoordinator(newClock())
	co.Observe("a", "  ")
	co.Observe("a", "")
	if co.Pending("a") != 0 {
		t.Fatal("blank transcripts must not be buffered")
	}
}

func TestSpeakersIndependent(t *testing.T) {
	co := newCoordinator(newClock())
	co.Observe("a", "one")
	if _, ok := co.Observe("b", "two"); ok {
		t.Fatal("fragments of different speakers must not combine")
	}
}

func TestHistoryCap(t *testing.T) {
	h := DialogueHistory{Max: 10}
	for i := 0; i < 37; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		h.Append(role, "t")
		if h.Len() > 10 {
			t.Fatalf("history grew to %d", h.Len())
		}
	}
	h2 := DialogueHistory{Max: 10}
	for i := 0; i < 6; i++ {
		h2.Append(llm.RoleUser, "u")
		h2.Append(llm.RoleAssistant, "a")
	}
	turns := h2.Turns()
	if len(turns) != 10 || turns[0].Role != llm.RoleUser {
		t.Fatalf("pairs should be dropped together: %+v", turns)
	}
}

type stubLLM struct {
	resp llm.ChatResponse
	err  error
	got  llm.ChatRequest
}

func (s *stubLLM) CreateChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	s.got = req
	return s.resp, s.err
}

func TestGenerateBuildsPrompt(t *testing.T) {
	stub := &stubLLM{resp: llm.ChatResponse{Content: "Sure thing.", Model: "m"}}
	g := &Generator{LLM: stub, MaxTokens: 150, Temperature: 0.7}
	hist := []llm.Message{{Role: llm.RoleUser, Content: "earlier"}, {Role: llm.RoleAssistant, Content: "yes"}}
	r := g.Generate(context.Background(), "what now", hist, "Ada")
	if r.Failed || r.Text != "Sure thing." {
		t.Fatalf("unexpected reply %+v", r)
	}
	msgs := stub.got.Messages
	if len(msgs) != 4 || msgs[0].Role != llm.RoleSystem || msgs[3].Content != "what now" {
		t.Fatalf("messages: %+v", msgs)
	}
	if stub.got.MaxTokens != 150 {
		t.Fatalf("max tokens: %d", stub.got.MaxTokens)
	}
	if want := SystemPrompt("Ada"); msgs[0].Content != want {
		t.Fatalf("system prompt should name the speaker: %q", msgs[0].Content)
	}
	if len(hist) != 2 {
		t.Fatal("caller history must not be modified")
	}
}

func TestGenerateApologizesOnFailure(t *testing.T) {
	for name, stub := range map[string]*stubLLM{
		"error": {err: errors.New("boom")},
		"empty": {resp: llm.ChatResponse{Content: ""}},
	} {
		t.Run(name, func(t *testing.T) {
			g := &Generator{LLM: stub}
			r := g.Generate(context.Background(), "hi", nil, "Ada")
			if !r.Failed || r.Text != Apology {
				t.Fatalf("expected apology, got %+v", r)
			}
		})
	}
}
