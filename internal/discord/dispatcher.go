package discord

import (
	"context"
	"errors"
	"sync/atomic"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-reply/internal/logging"
)

// MaxMessageLen is Discord's message length limit in characters.
const MaxMessageLen = 2000

const postPermissions = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages

// Surface is the text output the dispatcher posts to.
type Surface interface {
	// VoiceChannel reports the voice channel the user is connected to.
	VoiceChannel(userID string) (guildID, channelID string, ok bool)
	CanPost(channelID string) bool
	Post(ctx context.Context, channelID, text string) error
}

// Dispatcher posts replies into the text chat of the speaker's current
// voice channel, or into a configured fallback channel. Failures are logged
// and never returned.
type Dispatcher struct {
	surface  Surface
	fallback string

	delivered atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

func NewDispatcher(surface Surface, fallbackChannelID string) *Dispatcher {
	return &Dispatcher{surface: surface, fallback: fallbackChannelID}
}

func (d *Dispatcher) Deliver(ctx context.Context, speaker, text string) {
	if text == "" {
		return
	}
	channelID := d.destination(speaker)
	if channelID == "" {
		d.skipped.Add(1)
		logging.InfowCtx(ctx, "dispatch: no destination for speaker; skipping", "user.id", speaker)
		return
	}
	if !d.surface.CanPost(channelID) {
		d.skipped.Add(1)
		logging.WarnwCtx(ctx, "dispatch: missing permission to post; skipping", logging.ChannelFields(channelID, "")...)
		return
	}
	if err := d.surface.Post(ctx, channelID, Truncate(text, MaxMessageLen)); err != nil {
		d.failed.Add(1)
		logging.WarnwCtx(ctx, "dispatch: post failed", append(logging.ChannelFields(channelID, ""), "err", err)...)
		return
	}
	d.delivered.Add(1)
	logging.DebugwCtx(ctx, "dispatch: reply posted", logging.ChannelFields(channelID, "")...)
}

func (d *Dispatcher) destination(speaker string) string {
	if _, ch, ok := d.surface.VoiceChannel(speaker); ok && ch != "" {
		return ch
	}
	return d.fallback
}

// Truncate cuts s to at most n characters, marking the cut with an ellipsis.
// A limit below one yields the empty string.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n < 1 {
		return ""
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

type DispatchStats struct {
	Delivered int64 `json:"delivered"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{Delivered: d.delivered.Load(), Skipped: d.skipped.Load(), Failed: d.failed.Load()}
}

// SessionSurface implements Surface on a discordgo session. Voice channels
// carry their own text chat, so the voice channel id is the post target.
type SessionSurface struct {
	S       *discordgo.Session
	GuildID string
}

func (s SessionSurface) VoiceChannel(userID string) (string, string, bool) {
	if s.S == nil || s.S.State == nil || s.GuildID == "" {
		return "", "", false
	}
	vs, err := s.S.State.VoiceState(s.GuildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", "", false
	}
	return vs.GuildID, vs.ChannelID, true
}

func (s SessionSurface) CanPost(channelID string) bool {
	if s.S == nil || s.S.State == nil || s.S.State.User == nil {
		return false
	}
	perms, err := s.S.State.UserChannelPermissions(s.S.State.User.ID, channelID)
	if err != nil {
		logging.Debugw("dispatch: permission lookup failed", "channel.id", channelID, "err", err)
		return false
	}
	return perms&postPermissions == postPermissions
}

func (s SessionSurface) Post(ctx context.Context, channelID, text string) error {
	if s.S == nil {
		return errors.New("discord session not available")
	}
	_, err := s.S.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}
