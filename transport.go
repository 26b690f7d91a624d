package presence

// ChannelEvent is the kind of an inbound event delivered by a transport
// channel.
type ChannelEvent string

const (
	// EventSync is a periodic full-state snapshot from the transport.
	EventSync ChannelEvent = "sync"
	// EventJoin says that a member appeared on the topic.
	EventJoin ChannelEvent = "join"
	// EventLeave says that a member disappeared from the topic.
	EventLeave ChannelEvent = "leave"
	// EventSubscribed fires once the subscription is established. Outbound
	// announcements are only valid after this point.
	EventSubscribed ChannelEvent = "subscribed"
)

// PresencePayload is the outbound announcement a connected member sends.
// MemberID is optional: without it the announcement is inert and the
// connection contributes no member to anyone's online set.
type PresencePayload struct {
	MemberID    string `json:"member_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	TeamID      string `json:"team_id"`
	AnnouncedAt int64  `json:"announced_at"`
}

// RawSnapshot is the transport's current full view of who is present on a
// topic. Keys are opaque presence keys; each value is either a single
// participant record (map[string]interface{}) or a list of records.
type RawSnapshot map[string]interface{}

// TransportChannel is one live subscription to a presence topic.
//
// Handlers registered with On are invoked from transport goroutines; the
// Snapshot read must be usable from any handler.
type TransportChannel interface {
	On(event ChannelEvent, fn func())
	Subscribe() error
	Track(payload PresencePayload) error
	Untrack() error
	Snapshot() RawSnapshot
	Close() error
}

// Transport creates topic handles scoped by team. The key is used by the
// transport for de-duplication of the announcing member.
type Transport interface {
	Channel(topic string, key string) TransportChannel
}

const topicPrefix = "presence:team:"

func makeTopic(teamID string) string {
	return topicPrefix + teamID
}
