package conversation

import (
	"strings"
	"time"

	"github.com/discord-voice-reply/internal/logging"
	"github.com/discord-voice-reply/llm"
)

// Options tunes reply throttling. Zero values fall back to the defaults
// (window 3, cooldown 5s, two fragments, ten history entries).
type Options struct {
	WindowSize   int
	Cooldown     time.Duration
	MinFragments int
	HistoryMax   int
}

func (o Options) withDefaults() Options {
	if o.WindowSize <= 0 {
		o.WindowSize = 3
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Second
	}
	if o.MinFragments <= 0 {
		o.MinFragments = 2
	}
	if o.HistoryMax <= 0 {
		o.HistoryMax = 10
	}
	return o
}

// Trigger is returned by Observe when a reply should be generated.
type Trigger struct {
	Speaker   string
	Utterance string
	History   []llm.Message
	At        time.Time
}

type speakerState struct {
	window       TranscriptWindow
	history      DialogueHistory
	lastResponse time.Time
	responded    bool
	inFlight     bool
}

// Coordinator owns per-speaker transcript windows, cooldowns and dialogue
// histories. It is not safe for concurrent use; the session loop is its only
// caller.
type Coordinator struct {
	opts     Options
	now      func() time.Time
	speakers map[string]*speakerState
}

func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		opts:     opts.withDefaults(),
		now:      time.Now,
		speakers: make(map[string]*speakerState),
	}
}

// SetClock replaces the time source (tests).
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

func (c *Coordinator) state(speaker string) *speakerState {
	st, ok := c.speakers[speaker]
	if !ok {
		st = &speakerState{
			window:  TranscriptWindow{Size: c.opts.WindowSize},
			history: DialogueHistory{Max: c.opts.HistoryMax},
		}
		c.speakers[speaker] = st
	}
	return st
}

// Observe records a transcript. When the speaker is eligible it returns a
// Trigger carrying the combined utterance and a history snapshot, restarts
// the cooldown and clears the window. Blank transcripts are ignored.
func (c *Coordinator) Observe(speaker, transcript string) (Trigger, bool) {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return Trigger{}, false
	}
	st := c.state(speaker)
	st.window.Push(text)

	now := c.now()
	if !c.eligible(st, now) {
		logging.Debugw("conversation: transcript buffered", "user.id", speaker, "window", st.window.Len(), "in_flight", st.inFlight)
		return Trigger{}, false
	}
	t := Trigger{
		Speaker:   speaker,
		Utterance: st.window.Joined(),
		History:   st.history.Turns(),
		At:        now,
	}
	st.lastResponse = now
	st.responded = true
	st.inFlight = true
	st.window.Clear()
	return t, true
}

// Eligible reports whether the speaker's current window would trigger a reply.
func (c *Coordinator) Eligible(speaker string) bool {
	st, ok := c.speakers[speaker]
	if !ok {
		return false
	}
	return c.eligible(st, c.now())
}

func (c *Coordinator) eligible(st *speakerState, now time.Time) bool {
	if st.inFlight {
		return false
	}
	if st.window.Len() < c.opts.MinFragments {
		return false
	}
	if !st.responded {
		return true
	}
	return now.Sub(st.lastResponse) >= c.opts.Cooldown
}

// Complete appends the user turn and the reply to the speaker's history and
// releases the in-flight slot.
func (c *Coordinator) Complete(speaker, utterance, reply string) {
	st := c.state(speaker)
	st.inFlight = false
	st.history.Append(llm.RoleUser, utterance)
	st.history.Append(llm.RoleAssistant, reply)
}

// History returns a copy of the speaker's dialogue history.
func (c *Coordinator) History(speaker string) []llm.Message {
	st, ok := c.speakers[speaker]
	if !ok {
		return nil
	}
	return st.history.Turns()
}

// Pending returns the number of buffered fragments for speaker.
func (c *Coordinator) Pending(speaker string) int {
	if st, ok := c.speakers[speaker]; ok {
		return st.window.Len()
	}
	return 0
}

