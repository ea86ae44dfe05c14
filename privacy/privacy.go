// Package privacy classifies conversation contexts and memories into privacy
// levels and decides which stored memories a query context may see.
package privacy

import "strings"

// Level is the widest audience a memory may be surfaced to.
type Level string

const (
	LevelDM                Level = "dm"
	LevelChannelRestricted Level = "channel_restricted"
	LevelGuildPublic       Level = "guild_public"
	LevelGlobal            Level = "global"
)

// Levels lists every level from most to least restrictive.
var Levels = []Level{LevelDM, LevelChannelRestricted, LevelGuildPublic, LevelGlobal}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelDM, LevelChannelRestricted, LevelGuildPublic, LevelGlobal:
		return true
	}
	return false
}

// ParseLevel maps a stored or user-supplied string to a Level. Anything
// unrecognized becomes LevelChannelRestricted.
func ParseLevel(s string) Level {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if l.Valid() {
		return l
	}
	return LevelChannelRestricted
}

// ContextKind identifies the type of conversation a message came from.
type ContextKind string

const (
	KindDirectMessage ContextKind = "dm"
	KindGuildChannel  ContextKind = "guild_channel"
	KindGuildThread   ContextKind = "guild_thread"
)

// Context describes where a conversation is happening.
type Context struct {
	Kind      ContextKind `json:"kind"`
	GuildID   string      `json:"guild_id,omitempty"`
	ChannelID string      `json:"channel_id,omitempty"`
	// EveryoneCanRead is whether the guild's default role can read the
	// channel. nil means the transport could not tell.
	EveryoneCanRead *bool `json:"everyone_can_read,omitempty"`
}

// DirectMessage returns a DM context for the given channel.
func DirectMessage(channelID string) Context {
	return Context{Kind: KindDirectMessage, ChannelID: channelID}
}

// GuildChannel returns a guild channel context.
func GuildChannel(guildID, channelID string, everyoneCanRead bool) Context {
	return Context{
		Kind:            KindGuildChannel,
		GuildID:         guildID,
		ChannelID:       channelID,
		EveryoneCanRead: &everyoneCanRead,
	}
}
