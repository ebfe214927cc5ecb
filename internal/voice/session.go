package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/discord-voice-reply/internal/asr"
	"github.com/discord-voice-reply/internal/audio"
	"github.com/discord-voice-reply/internal/conversation"
	"github.com/discord-voice-reply/internal/logging"
	"github.com/discord-voice-reply/llm"
)

// Recognizer turns 16 kHz mono PCM into text. Implementations must not fail:
// problems are reported as an empty transcript.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, language string) asr.Transcript
}

// Replier produces the reply text for a combined utterance.
type Replier interface {
	Generate(ctx context.Context, utterance string, history []llm.Message, speakerName string) conversation.Reply
}

// Dispatcher delivers a reply for a speaker. It never reports errors.
type Dispatcher interface {
	Deliver(ctx context.Context, speaker, text string)
}

// Recorder persists recognised segments for debugging. Optional.
type Recorder interface {
	SaveSegment(correlationID, speaker string, pcm16k []byte, meta map[string]any) error
	Merge(correlationID string, fields map[string]any) error
}

type Options struct {
	WarmupBytes       int
	PartialFlushBytes int
	Language          string
	// Classifier filters non-speech frames before recognition; nil disables it.
	Classifier    audio.Classifier
	MaxWorkers    int
	MaxPending    int
	RecentReplies int
	Conversation  conversation.Options
	Clock         func() time.Time
}

type Deps struct {
	Recognizer Recognizer
	Replier    Replier
	Dispatcher Dispatcher
	Resolver   NameResolver
	Recorder   Recorder
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	Enqueued         int64 `json:"enqueued"`
	QueueDepth       int64 `json:"queue_depth"`
	ActiveSpeakers   int64 `json:"active_speakers"`
	PartialFlushes   int64 `json:"partial_flushes"`
	FinalFlushes     int64 `json:"final_flushes"`
	DroppedSegments  int64 `json:"dropped_segments"`
	Transcripts      int64 `json:"transcripts"`
	EmptyTranscripts int64 `json:"empty_transcripts"`
	Replies          int64 `json:"replies"`
	FailedReplies    int64 `json:"failed_replies"`
}

// ReplyRecord describes one delivered reply.
type ReplyRecord struct {
	CorrelationID string    `json:"correlation_id"`
	SpeakerID     string    `json:"speaker_id"`
	SpeakerName   string    `json:"speaker_name"`
	Utterance     string    `json:"utterance"`
	Reply         string    `json:"reply"`
	Failed        bool      `json:"failed"`
	At            time.Time `json:"at"`
}

type speakerJobs struct {
	recognizing bool
	pending     []segment
}

// Session is the per-voice-connection pipeline. Events from the Ingress are
// processed one at a time by Run, which is the only goroutine touching
// speaker buffers and conversation state. Recognition and reply generation
// run on worker goroutines and report back through the same queue.
type Session struct {
	opts    Options
	deps    Deps
	q       *eventQueue
	ingress *Ingress

	buffers map[string]*speakerBuffer
	jobs    map[string]*speakerJobs
	coord   *conversation.Coordinator

	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	enqueued         atomic.Int64
	activeSpeakers   atomic.Int64
	partialFlushes   atomic.Int64
	finalFlushes     atomic.Int64
	droppedSegments  atomic.Int64
	transcripts      atomic.Int64
	emptyTranscripts atomic.Int64
	replies          atomic.Int64
	failedReplies    atomic.Int64

	recentMu sync.Mutex
	recent   []ReplyRecord
}

func NewSession(opts Options, deps Deps) *Session {
	if opts.WarmupBytes < 0 {
		opts.WarmupBytes = 0
	}
	if opts.PartialFlushBytes <= 0 {
		opts.PartialFlushBytes = DefaultPartialFlushBytes
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = 4
	}
	if opts.RecentReplies <= 0 {
		opts.RecentReplies = 20
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if deps.Resolver == nil {
		deps.Resolver = NewNoopResolver()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:    opts,
		deps:    deps,
		q:       newEventQueue(),
		buffers: make(map[string]*speakerBuffer),
		jobs:    make(map[string]*speakerJobs),
		coord:   conversation.NewCoordinator(opts.Conversation),
		sem:     semaphore.NewWeighted(int64(opts.MaxWorkers)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.coord.SetClock(opts.Clock)
	s.ingress = &Ingress{q: s.q, enqueued: &s.enqueued}
	return s
}

// Ingress returns the transport callbacks feeding this session.
func (s *Session) Ingress() *Ingress { return s.ingress }

// Run consumes events until ctx ends or Close is called. It must be called
// at most once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("voice: session already running")
	}
	defer close(s.done)
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	logging.Infow("voice: session loop started", "max_workers", s.opts.MaxWorkers, "vad", s.opts.Classifier != nil)
	for {
		ev, ok := s.q.pop(s.ctx)
		if !ok {
			break
		}
		s.handle(ev)
	}
	clear(s.buffers)
	clear(s.jobs)
	s.activeSpeakers.Store(0)
	logging.Infow("voice: session loop stopped")
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Close stops the loop, cancels in-flight jobs and waits for them to return.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.q.close()
		if s.started.Load() {
			<-s.done
		}
		s.wg.Wait()
	})
	return nil
}

func (s *Session) handle(ev event) {
	switch ev.kind {
	case eventPCM:
		if pcm, ok := s.buffer(ev.speaker).append(ev.payload); ok {
			s.partialFlushes.Add(1)
			s.submit(s.newSegment(ev.speaker, pcm, false))
		}
	case eventFlush:
		pcm := s.buffer(ev.speaker).flushFinal()
		if len(pcm) == 0 {
			return
		}
		s.finalFlushes.Add(1)
		s.submit(s.newSegment(ev.speaker, pcm, true))
	case eventTranscript:
		s.onTranscript(ev)
	case eventReply:
		s.onReply(ev)
	default:
		logging.Warnw("voice: unknown event", "kind", ev.kind.String())
	}
}

func (s *Session) buffer(speaker string) *speakerBuffer {
	b, ok := s.buffers[speaker]
	if !ok {
		b = newSpeakerBuffer(s.opts.WarmupBytes, s.opts.PartialFlushBytes)
		s.buffers[speaker] = b
		s.activeSpeakers.Store(int64(len(s.buffers)))
		logging.Debugw("voice: new speaker buffer", "user.id", speaker)
	}
	return b
}

func (s *Session) jobsFor(speaker string) *speakerJobs {
	j, ok := s.jobs[speaker]
	if !ok {
		j = &speakerJobs{}
		s.jobs[speaker] = j
	}
	return j
}

func (s *Session) newSegment(speaker string, pcm []byte, final bool) segment {
	return segment{
		speaker:       speaker,
		correlationID: uuid.NewString(),
		pcm:           pcm,
		final:         final,
		flushedAt:     s.opts.Clock(),
	}
}

// submit starts recognition for seg, or queues it behind the speaker's
// in-flight job. The queue is bounded; the oldest waiting segment is dropped.
func (s *Session) submit(seg segment) {
	logging.Infow("voice: segment flushed", append([]interface{}{"user.id", seg.speaker}, logging.SegmentFields(seg.correlationID, len(seg.pcm), seg.final)...)...)
	j := s.jobsFor(seg.speaker)
	if !j.recognizing {
		s.startRecognition(j, seg)
		return
	}
	if len(j.pending) >= s.opts.MaxPending {
		dropped := j.pending[0]
		j.pending = j.pending[1:]
		s.droppedSegments.Add(1)
		logging.Warnw("voice: recognition backlog full; dropping oldest segment",
			"user.id", seg.speaker, "correlation_id", dropped.correlationID, "pending", len(j.pending))
	}
	j.pending = append(j.pending, seg)
}

func (s *Session) startRecognition(j *speakerJobs, seg segment) {
	j.recognizing = true
	s.offload(func(ctx context.Context) {
		tr := s.recognize(ctx, seg)
		s.q.push(event{kind: eventTranscript, speaker: seg.speaker, seg: segment{speaker: seg.speaker, correlationID: seg.correlationID, final: seg.final}, transcript: tr})
	})
}

// offload runs fn on a worker goroutine once a slot of the shared worker
// budget is free. Only the loop goroutine calls it.
func (s *Session) offload(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		fn(s.ctx)
	}()
}

func (s *Session) onTranscript(ev event) {
	j := s.jobsFor(ev.speaker)
	j.recognizing = false
	if len(j.pending) > 0 {
		next := j.pending[0]
		j.pending = j.pending[1:]
		s.startRecognition(j, next)
	}

	text := strings.TrimSpace(ev.transcript.Text)
	if text == "" {
		s.emptyTranscripts.Add(1)
		return
	}
	s.transcripts.Add(1)
	trig, ok := s.coord.Observe(ev.speaker, text)
	if !ok {
		return
	}
	s.startReply(trig, ev.seg.correlationID)
}

func (s *Session) startReply(trig conversation.Trigger, correlationID string) {
	logging.Infow("voice: reply triggered", "user.id", trig.Speaker, "correlation_id", correlationID, "utterance_len", len(trig.Utterance))
	s.offload(func(ctx context.Context) {
		ctx = logging.WithFields(ctx, "correlation_id", correlationID, "user.id", trig.Speaker)
		name := s.displayName(trig.Speaker)
		reply := s.deps.Replier.Generate(ctx, trig.Utterance, trig.History, name)
		if s.deps.Dispatcher != nil {
			s.deps.Dispatcher.Deliver(ctx, trig.Speaker, reply.Text)
		}
		if s.deps.Recorder != nil {
			if err := s.deps.Recorder.Merge(correlationID, map[string]any{
				"utterance":        trig.Utterance,
				"reply":            reply.Text,
				"reply_failed":     reply.Failed,
				"reply_model":      reply.Model,
				"reply_latency_ms": reply.Latency.Milliseconds(),
				"reply_at_utc":     time.Now().UTC().Format(time.RFC3339Nano),
			}); err != nil {
				logging.DebugwCtx(ctx, "voice: capture merge failed", "err", err)
			}
		}
		s.q.push(event{
			kind:        eventReply,
			speaker:     trig.Speaker,
			seg:         segment{speaker: trig.Speaker, correlationID: correlationID},
			utterance:   trig.Utterance,
			speakerName: name,
			reply:       reply,
		})
	})
}

func (s *Session) onReply(ev event) {
	s.coord.Complete(ev.speaker, ev.utterance, ev.reply.Text)
	s.replies.Add(1)
	if ev.reply.Failed {
		s.failedReplies.Add(1)
	}
	rec := ReplyRecord{
		CorrelationID: ev.seg.correlationID,
		SpeakerID:     ev.speaker,
		SpeakerName:   ev.speakerName,
		Utterance:     ev.utterance,
		Reply:         ev.reply.Text,
		Failed:        ev.reply.Failed,
		At:            s.opts.Clock(),
	}
	s.recentMu.Lock()
	s.recent = append(s.recent, rec)
	if over := len(s.recent) - s.opts.RecentReplies; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
	s.recentMu.Unlock()
}

func (s *Session) displayName(speaker string) string {
	if n := s.deps.Resolver.UserName(speaker); n != "" {
		return n
	}
	return speaker
}

// Stats may be called from any goroutine.
func (s *Session) Stats() Stats {
	return Stats{
		Enqueued:         s.enqueued.Load(),
		QueueDepth:       int64(s.q.len()),
		ActiveSpeakers:   s.activeSpeakers.Load(),
		PartialFlushes:   s.partialFlushes.Load(),
		FinalFlushes:     s.finalFlushes.Load(),
		DroppedSegments:  s.droppedSegments.Load(),
		Transcripts:      s.transcripts.Load(),
		EmptyTranscripts: s.emptyTranscripts.Load(),
		Replies:          s.replies.Load(),
		FailedReplies:    s.failedReplies.Load(),
	}
}

// RecentReplies returns up to n of the latest replies, newest last.
func (s *Session) RecentReplies(n int) []ReplyRecord {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	return append([]ReplyRecord(nil), s.recent[len(s.recent)-n:]...)
}
