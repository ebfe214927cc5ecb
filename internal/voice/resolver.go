package voice

// NameResolver maps Discord ids to human-friendly names. Implementations
// return "" when a name is unknown.
type NameResolver interface {
	UserName(userID string) string
	GuildName(guildID string) string
	ChannelName(channelID string) string
}

// NoopResolver returns empty names. Useful for tests or when REST lookups
// are unwanted.
type NoopResolver struct{}

func NewNoopResolver() *NoopResolver { return &NoopResolver{} }

func (NoopResolver) UserName(userID string) string       { return "" }
func (NoopResolver) GuildName(guildID string) string     { return "" }
func (NoopResolver) ChannelName(channelID string) string { return "" }
