package voice

import "sync/atomic"

// Ingress is the transport-facing side of a Session. Both callbacks may be
// invoked from any goroutine; they only enqueue.
type Ingress struct {
	q        *eventQueue
	enqueued *atomic.Int64
}

// OnPCM queues a chunk of decoded 48 kHz stereo PCM. Empty payloads and
// chunks without a known speaker are dropped. The payload is copied.
func (in *Ingress) OnPCM(speaker string, pcm []byte, timestamp uint32) {
	if in == nil || len(pcm) == 0 || speaker == "" {
		return
	}
	ev := event{kind: eventPCM, speaker: speaker, payload: append([]byte(nil), pcm...), timestamp: timestamp}
	if in.q.push(ev) && in.enqueued != nil {
		in.enqueued.Add(1)
	}
}

// OnSpeakingState queues a final flush when the speaker stops talking.
// Start transitions need no action.
func (in *Ingress) OnSpeakingState(speaker string, speaking bool) {
	if in == nil || speaking || speaker == "" {
		return
	}
	in.q.push(event{kind: eventFlush, speaker: speaker})
}
