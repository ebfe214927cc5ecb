package discord

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

type fakeDecoder struct{}

// Decode yields one 20 ms stereo frame filled with the first payload byte.
func (fakeDecoder) Decode(data []byte, pcm []int16) (int, error) {
	if data[0] == 0xff {
		return 0, errors.New("corrupt packet")
	}
	for i := 0; i < 1920; i++ {
		pcm[i] = int16(data[0])
	}
	return 960, nil
}

type recordingSink struct {
	mu    sync.Mutex
	pcm   map[string]int
	stops []string
}

func (s *recordingSink) OnPCM(speaker string, pcm []byte, ts uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pcm == nil {
		s.pcm = make(map[string]int)
	}
	s.pcm[speaker] += len(pcm)
}

func (s *recordingSink) OnSpeakingState(speaker string, speaking bool) {
	if speaking {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, speaker)
}

func newTestReceiver(sink Sink) *Receiver {
	r := NewReceiver(sink, 800*time.Millisecond)
	r.newDecoder = func() (PCMDecoder, error) { return fakeDecoder{}, nil }
	return r
}

func TestSpeakingUpdateMapsSSRC(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReceiver(sink)

	r.HandlePacket(&discordgo.Packet{SSRC: 12345, Opus: []byte{1}})
	if sink.pcm["test-user-1"] != 0 || r.Stats().Dropped != 1 {
		t.Fatal("audio from an unmapped SSRC must be dropped")
	}

	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "test-user-1", SSRC: 12345, Speaking: true})
	r.HandlePacket(&discordgo.Packet{SSRC: 12345, Opus: []byte{1}})
	if got := sink.pcm["test-user-1"]; got != 3840 {
		t.Fatalf("want one 20ms stereo frame (3840 bytes), got %d", got)
	}

	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "test-user-1", SSRC: 12345, Speaking: false})
	if len(sink.stops) != 1 || sink.stops[0] != "test-user-1" {
		t.Fatalf("stop not forwarded: %v", sink.stops)
	}
}

func TestAllowlistDropsOtherUsers(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReceiver(sink)
	r.SetAllowedUsers([]string{"allowed"})
	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "allowed", SSRC: 1, Speaking: true})
	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "other", SSRC: 2, Speaking: true})
	r.HandlePacket(&discordgo.Packet{SSRC: 1, Opus: []byte{1}})
	r.HandlePacket(&discordgo.Packet{SSRC: 2, Opus: []byte{1}})
	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "other", SSRC: 2, Speaking: false})
	if sink.pcm["other"] != 0 || sink.pcm["allowed"] == 0 {
		t.Fatalf("allowlist not applied: %v", sink.pcm)
	}
	if len(sink.stops) != 0 {
		t.Fatalf("stops from filtered users must be dropped: %v", sink.stops)
	}
}

func TestDecodeErrorCounted(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReceiver(sink)
	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u", SSRC: 1, Speaking: true})
	r.HandlePacket(&discordgo.Packet{SSRC: 1, Opus: []byte{0xff}})
	r.HandlePacket(&discordgo.Packet{SSRC: 1})
	if st := r.Stats(); st.DecodeErrors != 1 || st.Packets != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestSweepEmitsStopAfterSilence(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReceiver(sink)
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }

	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u", SSRC: 7, Speaking: true})
	r.HandlePacket(&discordgo.Packet{SSRC: 7, Opus: []byte{3}})

	now = now.Add(799 * time.Millisecond)
	r.Sweep()
	if len(sink.stops) != 0 {
		t.Fatal("stop emitted before the silence timeout")
	}
	now = now.Add(time.Millisecond)
	r.Sweep()
	r.Sweep()
	if len(sink.stops) != 1 || sink.stops[0] != "u" {
		t.Fatalf("expected exactly one stop, got %v", sink.stops)
	}
}

func TestRunDrainsPackets(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReceiver(sink)
	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u", SSRC: 42, Speaking: true})

	packets := make(chan *discordgo.Packet, 2)
	packets <- &discordgo.Packet{SSRC: 42, Opus: []byte{0x01, 0x02}}
	packets <- nil
	close(packets)

	done := make(chan struct{})
	go func() {
		r.Run(t.Context(), packets)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.pcm["u"] != 3840 {
		t.Fatalf("packet not delivered: %v", sink.pcm)
	}
}
