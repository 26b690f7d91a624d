package presence

// ChannelSession represents one team's live subscription to its presence
// topic. It is keyed uniquely in the Hub.
type ChannelSession struct {
	TeamID  string
	Payload PresencePayload

	channel TransportChannel
}

// NewChannelSession is a constructor for the ChannelSession structure.
func NewChannelSession(teamID string, channel TransportChannel, payload PresencePayload) *ChannelSession {
	return &ChannelSession{
		TeamID:  teamID,
		Payload: payload,
		channel: channel,
	}
}

// Channel returns the underlying transport channel handle.
func (s *ChannelSession) Channel() TransportChannel {
	return s.channel
}
