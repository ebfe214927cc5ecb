package voice

import (
	"context"
	"sync"
	"time"

	"github.com/discord-voice-reply/internal/asr"
	"github.com/discord-voice-reply/internal/conversation"
)

type eventKind int

const (
	eventPCM eventKind = iota
	eventFlush
	eventTranscript
	eventReply
)

func (k eventKind) String() string {
	switch k {
	case eventPCM:
		return "pcm"
	case eventFlush:
		return "flush"
	case eventTranscript:
		return "transcript"
	case eventReply:
		return "reply"
	}
	return "unknown"
}

// event is the unit carried by the session queue. PCM and flush events come
// from the transport; transcript and reply events are results of offloaded
// jobs handed back to the loop.
type event struct {
	kind      eventKind
	speaker   string
	payload   []byte
	timestamp uint32

	seg         segment
	transcript  asr.Transcript
	utterance   string
	speakerName string
	reply       conversation.Reply
}

// eventQueue is an unbounded FIFO. push never blocks so transport callbacks
// cannot stall; pop blocks until an event arrives, the queue is closed or
// ctx ends.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	signal chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *eventQueue) pop(ctx context.Context) (event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return event{}, false
		}
		select {
		case <-ctx.Done():
			return event{}, false
		case <-q.signal:
		}
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// segment is one flushed span of a speaker's 48 kHz stereo audio.
type segment struct {
	speaker       string
	correlationID string
	pcm           []byte
	final         bool
	flushedAt     time.Time
}
