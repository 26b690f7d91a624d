package presence

// Engine tracks, per team, the live set of connected members and fans out
// immutable snapshots of it to subscribers. All transport failures are
// treated as best-effort: they are logged and counted, never propagated to
// callers, presence degrades to fewer online indicators instead of errors.
type Engine struct {
	config    Config
	transport Transport
	hub       *Hub
	fanout    *Fanout
	logger    *logger
}

// NewEngine ...
func NewEngine(c Config, t Transport) *Engine {
	if c.Name == "" {
		c.Name = DefaultConfig.Name
	}

	e := &Engine{
		config:    c,
		transport: t,
		hub:       NewHub(),
		fanout:    NewFanout(),
	}

	if c.LogHandler != nil {
		e.logger = newLogger(c.LogLevel, c.LogHandler)
	}
	e.fanout.logger = e.logger

	return e
}

// Open starts a presence session for teamID, announcing payload once the
// subscription is established. If a session already exists for the team it
// is returned as is and no new transport subscription is made.
//
// All visible effects (track, aggregation) happen from transport event
// callbacks, not from the return of Open.
func (e *Engine) Open(teamID string, payload PresencePayload) *ChannelSession {
	if session, ok := e.hub.Get(teamID); ok {
		return session
	}

	session, created := e.hub.GetOrCreate(teamID, func() *ChannelSession {
		channel := e.transport.Channel(makeTopic(teamID), payload.MemberID)
		return NewChannelSession(teamID, channel, payload)
	})
	if !created {
		return session
	}

	channel := session.Channel()

	channel.On(EventSync, func() {
		eventsReceivedCountSync.Inc()
		e.recompute(teamID, channel)
	})
	channel.On(EventJoin, func() {
		eventsReceivedCountJoin.Inc()
		e.recompute(teamID, channel)
	})
	channel.On(EventLeave, func() {
		eventsReceivedCountLeave.Inc()
		e.recompute(teamID, channel)
	})
	channel.On(EventSubscribed, func() {
		if err := channel.Track(payload); err != nil {
			transportFailuresCount.WithLabelValues(MetricsTransportOpTrack).Inc()
			e.logger.log(NewLogEntry(LogLevelWarn, "error announcing presence", map[string]interface{}{"team": teamID, "error": err.Error()}))
		}
	})

	if err := channel.Subscribe(); err != nil {
		transportFailuresCount.WithLabelValues(MetricsTransportOpSubscribe).Inc()
		e.logger.log(NewLogEntry(LogLevelWarn, "error subscribing presence channel", map[string]interface{}{"team": teamID, "error": err.Error()}))
	}

	numSessionsGauge.Inc()
	e.logger.log(NewLogEntry(LogLevelDebug, "presence session opened", map[string]interface{}{"team": teamID}))

	return session
}

// Close tears down the presence session for teamID. Untrack and transport
// teardown are best-effort; local state is unconditionally cleared and
// subscribers are notified with an empty set. Closing a team with no
// session is a no-op.
func (e *Engine) Close(teamID string) {
	session, ok := e.hub.Get(teamID)
	if !ok {
		return
	}

	channel := session.Channel()

	if err := channel.Untrack(); err != nil {
		transportFailuresCount.WithLabelValues(MetricsTransportOpUntrack).Inc()
		e.logger.log(NewLogEntry(LogLevelWarn, "error untracking presence", map[string]interface{}{"team": teamID, "error": err.Error()}))
	}
	if err := channel.Close(); err != nil {
		transportFailuresCount.WithLabelValues(MetricsTransportOpTeardown).Inc()
		e.logger.log(NewLogEntry(LogLevelWarn, "error tearing down presence channel", map[string]interface{}{"team": teamID, "error": err.Error()}))
	}

	if _, ok := e.hub.Remove(teamID); ok {
		numSessionsGauge.Dec()
	}
	e.fanout.Clear(teamID)

	e.logger.log(NewLogEntry(LogLevelDebug, "presence session closed", map[string]interface{}{"team": teamID}))
}

// Subscribe registers fn for online set updates of teamID. The callback is
// immediately invoked with the current set. The returned function removes
// the subscription.
func (e *Engine) Subscribe(teamID string, fn Subscriber) func() {
	return e.fanout.Subscribe(teamID, fn)
}

// OnlineIDs returns a copy of the current online set for teamID.
func (e *Engine) OnlineIDs(teamID string) map[string]struct{} {
	return e.fanout.OnlineIDs(teamID)
}

// Hub returns the engine's session registry.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// Shutdown closes every active session.
func (e *Engine) Shutdown() {
	for _, teamID := range e.hub.TeamIDs() {
		e.Close(teamID)
	}
}

// recompute rebuilds the canonical online set for teamID from the
// transport's current full snapshot. Every event kind triggers the same
// full replacement, so out-of-order or lost join/leave deltas can not cause
// drift: the next event self-heals the set.
func (e *Engine) recompute(teamID string, channel TransportChannel) {
	online := aggregateSnapshot(channel.Snapshot())
	e.fanout.Replace(teamID, online)
}
