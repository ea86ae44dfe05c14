package privacy

// Scope is the audience a retrieval runs for: who is asking about whose
// memories, and from which conversation.
type Scope struct {
	Level     Level
	OwnerID   string
	GuildID   string
	ChannelID string
}

// NewScope classifies ctx and binds it to the owner whose memories are
// being searched.
func NewScope(ownerID string, ctx Context) Scope {
	return Scope{
		Level:     ClassifyContext(ctx),
		OwnerID:   ownerID,
		GuildID:   ctx.GuildID,
		ChannelID: ctx.ChannelID,
	}
}

// Record is the privacy-relevant view of a stored memory.
type Record struct {
	OwnerID   string
	Level     Level
	GuildID   string
	ChannelID string
}

// Allows reports whether a memory with the given record may be surfaced in
// this scope:
//
//	dm:                 the owner's memories at any level
//	channel_restricted: owner global, anyone's guild_public in the same guild,
//	                    owner channel_restricted in the same channel
//	guild_public:       owner global, anyone's guild_public in the same guild
//
// Any other scope level allows nothing.
func (s Scope) Allows(r Record) bool {
	isOwner := s.OwnerID != "" && r.OwnerID == s.OwnerID
	sameGuildPublic := r.Level == LevelGuildPublic && s.GuildID != "" && r.GuildID == s.GuildID

	switch s.Level {
	case LevelDM:
		return isOwner && r.Level.Valid()
	case LevelChannelRestricted:
		if isOwner && r.Level == LevelGlobal {
			return true
		}
		if sameGuildPublic {
			return true
		}
		return isOwner && r.Level == LevelChannelRestricted && s.ChannelID != "" && r.ChannelID == s.ChannelID
	case LevelGuildPublic:
		return (isOwner && r.Level == LevelGlobal) || sameGuildPublic
	default:
		return false
	}
}
