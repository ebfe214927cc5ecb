package discord

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-voice-reply/internal/audio"
	"github.com/discord-voice-reply/internal/logging"
)

// maxFrameSamples covers the longest Opus frame (120 ms) at 48 kHz stereo.
const maxFrameSamples = 5760 * audio.CaptureChannels

// PCMDecoder decodes one Opus packet into interleaved int16 samples and
// returns the number of samples per channel.
type PCMDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// NewOpusDecoder returns a libopus decoder for 48 kHz stereo.
func NewOpusDecoder() (PCMDecoder, error) {
	dec, err := opus.NewDecoder(audio.CaptureRate, audio.CaptureChannels)
	if err != nil {
		return nil, err
	}
	return dec, nil
}

// Sink receives decoded audio and speaking transitions keyed by user id.
type Sink interface {
	OnPCM(speaker string, pcm []byte, timestamp uint32)
	OnSpeakingState(speaker string, speaking bool)
}

// Receiver turns the voice connection's Opus packets into per-user PCM.
// SSRCs are mapped to users from speaking updates; each SSRC gets its own
// decoder. Discord stops sending packets during silence, so a sweep emits a
// stop for SSRCs that went quiet for longer than the silence timeout.
type Receiver struct {
	sink       Sink
	newDecoder func() (PCMDecoder, error)
	silence    time.Duration
	now        func() time.Time

	mu        sync.Mutex
	ssrcUser  map[uint32]string
	decoders  map[uint32]PCMDecoder
	lastHeard map[uint32]time.Time
	allowlist map[string]struct{}

	packets      atomic.Int64
	decodeErrors atomic.Int64
	dropped      atomic.Int64
}

func NewReceiver(sink Sink, silence time.Duration) *Receiver {
	if silence <= 0 {
		silence = 800 * time.Millisecond
	}
	return &Receiver{
		sink:       sink,
		newDecoder: NewOpusDecoder,
		silence:    silence,
		now:        time.Now,
		ssrcUser:   make(map[uint32]string),
		decoders:   make(map[uint32]PCMDecoder),
		lastHeard:  make(map[uint32]time.Time),
		allowlist:  make(map[string]struct{}),
	}
}

// SetAllowedUsers restricts audio to the given user ids. An empty list
// accepts everyone.
func (r *Receiver) SetAllowedUsers(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowlist = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			r.allowlist[id] = struct{}{}
		}
	}
	logging.Infow("receiver: allowlist configured", "count", len(r.allowlist))
}

// HandleSpeakingUpdate records the SSRC owner and forwards stop transitions.
func (r *Receiver) HandleSpeakingUpdate(vc *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}
	ssrc := uint32(su.SSRC)
	r.mu.Lock()
	prev := r.ssrcUser[ssrc]
	r.ssrcUser[ssrc] = su.UserID
	allowed := r.allowedLocked(su.UserID)
	if !su.Speaking {
		delete(r.lastHeard, ssrc)
	}
	r.mu.Unlock()
	if prev != su.UserID {
		logging.Infow("receiver: mapped SSRC to user", "ssrc", ssrc, "user.id", su.UserID)
	}
	if allowed {
		r.sink.OnSpeakingState(su.UserID, su.Speaking)
	}
}

func (r *Receiver) allowedLocked(userID string) bool {
	if len(r.allowlist) == 0 {
		return true
	}
	_, ok := r.allowlist[userID]
	return ok
}

// HandlePacket decodes one packet. Packets from unmapped SSRCs are still
// decoded to keep decoder state continuous, but their audio is dropped.
func (r *Receiver) HandlePacket(pkt *discordgo.Packet) {
	if pkt == nil || len(pkt.Opus) == 0 {
		return
	}
	r.packets.Add(1)

	r.mu.Lock()
	uid := r.ssrcUser[pkt.SSRC]
	if uid != "" && !r.allowedLocked(uid) {
		r.mu.Unlock()
		r.dropped.Add(1)
		return
	}
	dec, ok := r.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = r.newDecoder()
		if err != nil {
			r.mu.Unlock()
			r.decodeErrors.Add(1)
			logging.Errorw("receiver: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
			return
		}
		r.decoders[pkt.SSRC] = dec
	}
	r.lastHeard[pkt.SSRC] = r.now()
	r.mu.Unlock()

	pcm := make([]int16, maxFrameSamples)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		r.decodeErrors.Add(1)
		logging.Debugw("receiver: opus decode error", "ssrc", pkt.SSRC, "err", err)
		return
	}
	if uid == "" {
		r.dropped.Add(1)
		return
	}
	r.sink.OnPCM(uid, audio.SamplesToBytes(pcm[:n*audio.CaptureChannels]), pkt.Timestamp)
}

// Sweep emits a stop for every SSRC silent longer than the timeout.
func (r *Receiver) Sweep() {
	now := r.now()
	var stopped []string
	r.mu.Lock()
	for ssrc, last := range r.lastHeard {
		if now.Sub(last) < r.silence {
			continue
		}
		delete(r.lastHeard, ssrc)
		if uid := r.ssrcUser[ssrc]; uid != "" && r.allowedLocked(uid) {
			stopped = append(stopped, uid)
		}
	}
	r.mu.Unlock()
	for _, uid := range stopped {
		logging.Debugw("receiver: silence timeout", "user.id", uid)
		r.sink.OnSpeakingState(uid, false)
	}
}

// Run reads packets until the channel closes or ctx ends, sweeping for
// silence in between.
func (r *Receiver) Run(ctx context.Context, packets <-chan *discordgo.Packet) {
	tick := r.silence / 4
	if tick < 20*time.Millisecond {
		tick = 20 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				r.Sweep()
				return
			}
			r.HandlePacket(pkt)
		case <-ticker.C:
			r.Sweep()
		}
	}
}

type ReceiverStats struct {
	Packets      int64 `json:"packets"`
	DecodeErrors int64 `json:"decode_errors"`
	Dropped      int64 `json:"dropped"`
}

func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Packets:      r.packets.Load(),
		DecodeErrors: r.decodeErrors.Load(),
		Dropped:      r.dropped.Load(),
	}
}
