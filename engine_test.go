package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu sync.Mutex

	topic string
	key   string

	handlers map[ChannelEvent][]func()
	snapshot RawSnapshot

	subscribed bool
	closed     bool
	tracked    []PresencePayload
	untracks   int

	subscribeErr error
	trackErr     error
	untrackErr   error
	closeErr     error
}

func (c *fakeChannel) On(event ChannelEvent, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

func (c *fakeChannel) Subscribe() error {
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	c.emit(EventSubscribed)
	return nil
}

func (c *fakeChannel) Track(payload PresencePayload) error {
	if c.trackErr != nil {
		return c.trackErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = append(c.tracked, payload)
	return nil
}

func (c *fakeChannel) Untrack() error {
	c.mu.Lock()
	c.untracks++
	c.mu.Unlock()
	return c.untrackErr
}

func (c *fakeChannel) Snapshot() RawSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.closeErr
}

// deliver simulates an inbound transport event carrying a new full
// snapshot.
func (c *fakeChannel) deliver(event ChannelEvent, snapshot RawSnapshot) {
	c.mu.Lock()
	c.snapshot = snapshot
	c.mu.Unlock()
	c.emit(event)
}

func (c *fakeChannel) emit(event ChannelEvent) {
	c.mu.Lock()
	fns := make([]func(), len(c.handlers[event]))
	copy(fns, c.handlers[event])
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

type fakeTransport struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	created  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		channels: make(map[string]*fakeChannel),
	}
}

func (t *fakeTransport) Channel(topic string, key string) TransportChannel {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &fakeChannel{
		topic:    topic,
		key:      key,
		handlers: make(map[ChannelEvent][]func()),
		snapshot: RawSnapshot{},
	}
	t.channels[topic] = c
	t.created++
	return c
}

func (t *fakeTransport) channel(teamID string) *fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channels[makeTopic(teamID)]
}

func newTestEngine() (*Engine, *fakeTransport) {
	transport := newFakeTransport()
	engine := NewEngine(Config{}, transport)
	return engine, transport
}

func TestOpenIdempotent(t *testing.T) {
	engine, transport := newTestEngine()

	payload := PresencePayload{MemberID: "a1", TeamID: "42"}

	first := engine.Open("42", payload)
	second := engine.Open("42", payload)

	require.NotNil(t, first)
	require.Same(t, first, second)
	require.Equal(t, 1, transport.created)
}

func TestOpenTracksOnSubscriptionEstablished(t *testing.T) {
	engine, transport := newTestEngine()

	engine.Open("42", PresencePayload{MemberID: "a1", TeamID: "42"})

	channel := transport.channel("42")
	require.NotNil(t, channel)
	require.True(t, channel.subscribed)
	require.Len(t, channel.tracked, 1)
	require.Equal(t, "a1", channel.tracked[0].MemberID)
	require.Equal(t, "a1", channel.key)
	require.Equal(t, "presence:team:42", channel.topic)
}

func TestOpenWithoutMemberIDIsInert(t *testing.T) {
	engine, transport := newTestEngine()

	engine.Open("42", PresencePayload{TeamID: "42"})

	channel := transport.channel("42")
	require.NotNil(t, channel)
	require.True(t, channel.subscribed)
	require.Equal(t, "", channel.key)

	// The announcement carries no member id, so the transport's snapshot
	// never contains this connection.
	channel.deliver(EventSync, RawSnapshot{})
	require.Empty(t, engine.OnlineIDs("42"))

	// The connection stays open and keeps observing other members.
	channel.deliver(EventSync, RawSnapshot{
		"k1": map[string]interface{}{"user_id": "b2"},
	})
	require.Equal(t, map[string]struct{}{"b2": {}}, engine.OnlineIDs("42"))
}

func TestCloseWithoutSessionIsNoop(t *testing.T) {
	engine, _ := newTestEngine()

	require.NotPanics(t, func() {
		engine.Close("nope")
	})
}

func TestFullReplaceConvergence(t *testing.T) {
	engine, transport := newTestEngine()
	engine.Open("42", PresencePayload{MemberID: "a1", TeamID: "42"})

	channel := transport.channel("42")

	channel.deliver(EventSync, RawSnapshot{
		"k1": map[string]interface{}{"user_id": "a1"},
		"k2": []interface{}{map[string]interface{}{"id": "b2"}},
	})
	require.Equal(t, map[string]struct{}{"a1": {}, "b2": {}}, engine.OnlineIDs("42"))

	// The leave below reports a snapshot containing only a1. b2 disappears
	// because it is absent from the new full snapshot, not because any
	// delta was applied.
	channel.deliver(EventLeave, RawSnapshot{
		"k1": map[string]interface{}{"user_id": "a1"},
	})
	require.Equal(t, map[string]struct{}{"a1": {}}, engine.OnlineIDs("42"))
}

func TestEventOrderDoesNotMatter(t *testing.T) {
	engine, transport := newTestEngine()
	engine.Open("42", PresencePayload{MemberID: "a1", TeamID: "42"})

	channel := transport.channel("42")

	final := RawSnapshot{"k1": map[string]interface{}{"user_id": "z9"}}

	channel.deliver(EventJoin, RawSnapshot{"k1": map[string]interface{}{"user_id": "a1"}})
	channel.deliver(EventLeave, RawSnapshot{"k2": map[string]interface{}{"user_id": "b2"}})
	channel.deliver(EventSync, final)

	require.Equal(t, map[string]struct{}{"z9": {}}, engine.OnlineIDs("42"))
}

func TestSubscribeDeliversUpdates(t *testing.T) {
	engine, transport := newTestEngine()
	engine.Open("42", PresencePayload{MemberID: "a1", TeamID: "42"})

	var got []map[string]struct{}
	unsub := engine.Subscribe("42", func(online map[string]struct{}) {
		got = append(got, online)
	})
	defer unsub()

	transport.channel("42").deliver(EventSync, RawSnapshot{
		"k1": map[string]interface{}{"user_id": "a1"},
	})

	require.Len(t, got, 2)
	require.Empty(t, got[0])
	require.Equal(t, map[string]struct{}{"a1": {}}, got[1])
}

func TestTeardownClearsState(t *testing.T) {
	engine, transport := newTestEngine()
	engine.Open("42", PresencePayload{MemberID: "a1", TeamID: "42"})

	channel := transport.channel("42")
	channel.deliver(EventSync, RawSnapshot{"k1": map[string]interface{}{"user_id": "a1"}})

	var got []map[string]struct{}
	unsub := engine.Subscribe("42", func(online map[string]struct{}) {
		got = append(got, online)
	})
	defer unsub()

	engine.Close("42")

	require.Equal(t, 1, channel.untracks)
	require.True(t, channel.closed)
	require.Empty(t, engine.OnlineIDs("42"))
	require.Len(t, got, 2)
	require.Empty(t, got[1])

	_, ok := engine.Hub().Get("42")
	require.False(t, ok)
}

func TestTransportFailuresAreNonFatal(t *testing.T) {
	c := &fakeChannel{
		topic:        makeTopic("42"),
		key:          "a1",
		handlers:     make(map[ChannelEvent][]func()),
		snapshot:     RawSnapshot{},
		subscribeErr: ErrorTransportClosed,
		untrackErr:   ErrorTransportClosed,
		closeErr:     ErrorTransportClosed,
	}

	engine := NewEngine(Config{}, &failingTransport{channel: c})

	var session *ChannelSession
	require.NotPanics(t, func() {
		session = engine.Open("42", PresencePayload{MemberID: "a1", TeamID: "42"})
	})
	require.NotNil(t, session)

	require.NotPanics(t, func() {
		engine.Close("42")
	})

	_, ok := engine.Hub().Get("42")
	require.False(t, ok)
}

type failingTransport struct {
	channel *fakeChannel
}

func (t *failingTransport) Channel(topic string, key string) TransportChannel {
	return t.channel
}

func TestShutdownClosesAllSessions(t *testing.T) {
	engine, transport := newTestEngine()

	engine.Open("1", PresencePayload{MemberID: "a1", TeamID: "1"})
	engine.Open("2", PresencePayload{MemberID: "a1", TeamID: "2"})

	engine.Shutdown()

	require.Equal(t, 0, engine.Hub().NumSessions())
	require.True(t, transport.channel("1").closed)
	require.True(t, transport.channel("2").closed)
}

func TestTeamsAreIndependent(t *testing.T) {
	engine, transport := newTestEngine()

	engine.Open("1", PresencePayload{MemberID: "a1", TeamID: "1"})
	engine.Open("2", PresencePayload{MemberID: "a1", TeamID: "2"})

	transport.channel("1").deliver(EventSync, RawSnapshot{
		"k1": map[string]interface{}{"user_id": "a1"},
	})

	require.Equal(t, map[string]struct{}{"a1": {}}, engine.OnlineIDs("1"))
	require.Empty(t, engine.OnlineIDs("2"))

	engine.Close("1")

	_, ok := engine.Hub().Get("2")
	require.True(t, ok)
}
