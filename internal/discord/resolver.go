package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// cacheTTL controls how long a resolved name is reused.
var cacheTTL = 5 * time.Minute

type cacheEntry struct {
	val    string
	expiry time.Time
}

type nameCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func (c *nameCache) get(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiry) {
		delete(c.entries, id)
		return "", false
	}
	return e.val, true
}

func (c *nameCache) put(id, val string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]cacheEntry)
	}
	c.entries[id] = cacheEntry{val: val, expiry: time.Now().Add(cacheTTL)}
}

// Resolver looks names up in the session state first and falls back to the
// REST API. Results are cached. It satisfies voice.NameResolver.
type Resolver struct {
	s       *discordgo.Session
	guildID string

	users    nameCache
	guilds   nameCache
	channels nameCache
}

func NewResolver(s *discordgo.Session, guildID string) *Resolver {
	return &Resolver{s: s, guildID: guildID}
}

// UserName prefers the guild nickname, then the global display name, then
// the username.
func (r *Resolver) UserName(userID string) string {
	if r.s == nil || userID == "" {
		return ""
	}
	if v, ok := r.users.get(userID); ok {
		return v
	}
	name := ""
	if r.s.State != nil && r.guildID != "" {
		if m, err := r.s.State.Member(r.guildID, userID); err == nil && m != nil {
			name = memberName(m)
		}
	}
	if name == "" {
		if u, err := r.s.User(userID); err == nil && u != nil {
			name = userName(u)
		}
	}
	if name != "" {
		r.users.put(userID, name)
	}
	return name
}

func memberName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User != nil {
		return userName(m.User)
	}
	return ""
}

func userName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (r *Resolver) GuildName(guildID string) string {
	if r.s == nil || guildID == "" {
		return ""
	}
	if v, ok := r.guilds.get(guildID); ok {
		return v
	}
	var g *discordgo.Guild
	if r.s.State != nil {
		g, _ = r.s.State.Guild(guildID)
	}
	if g == nil {
		g, _ = r.s.Guild(guildID)
	}
	if g == nil {
		return ""
	}
	r.guilds.put(guildID, g.Name)
	return g.Name
}

func (r *Resolver) ChannelName(channelID string) string {
	if r.s == nil || channelID == "" {
		return ""
	}
	if v, ok := r.channels.get(channelID); ok {
		return v
	}
	var c *discordgo.Channel
	if r.s.State != nil {
		c, _ = r.s.State.Channel(channelID)
	}
	if c == nil {
		c, _ = r.s.Channel(channelID)
	}
	if c == nil {
		return ""
	}
	r.channels.put(channelID, c.Name)
	return c.Name
}
