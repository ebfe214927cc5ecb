package conversation

import (
	"strings"

	"github.com/discord-voice-reply/llm"
)

// TranscriptWindow keeps the last Size transcripts of one speaker, oldest
// evicted first.
type TranscriptWindow struct {
	Size  int
	items []string
}

func (w *TranscriptWindow) Push(text string) {
	w.items = append(w.items, text)
	if w.Size > 0 && len(w.items) > w.Size {
		w.items = append(w.items[:0], w.items[len(w.items)-w.Size:]...)
	}
}

func (w *TranscriptWindow) Len() int { return len(w.items) }

// Joined returns the buffered fragments separated by a single space.
func (w *TranscriptWindow) Joined() string { return strings.Join(w.items, " ") }

func (w *TranscriptWindow) Clear() { w.items = w.items[:0] }

// DialogueHistory is the bounded chat history of one speaker. When an append
// pushes it past Max, the oldest turns are dropped two at a time so user and
// assistant turns stay paired.
type DialogueHistory struct {
	Max   int
	turns []llm.Message
}

func (h *DialogueHistory) Append(role, content string) {
	h.turns = append(h.turns, llm.Message{Role: role, Content: content})
	if h.Max <= 0 {
		return
	}
	for len(h.turns) > h.Max {
		drop := 2
		if drop > len(h.turns) {
			drop = len(h.turns)
		}
		h.turns = append(h.turns[:0], h.turns[drop:]...)
	}
}

func (h *DialogueHistory) Len() int { return len(h.turns) }

// Turns returns a copy safe to hand to another goroutine.
func (h *DialogueHistory) Turns() []llm.Message { return append([]llm.Message(nil), h.turns...) }
