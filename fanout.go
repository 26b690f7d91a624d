package presence

import (
	"sync"
	"time"
)

// Subscriber is a callback receiving a fresh copy of a team's online set.
// The set it receives is owned by the callback, mutating it never affects
// the engine or other subscribers.
type Subscriber func(online map[string]struct{})

// Fanout stores the per-team online sets and delivers snapshots of them to
// every registered subscriber whenever a set is recomputed.
type Fanout struct {
	mu          sync.RWMutex
	online      map[string]map[string]struct{}
	subscribers map[string]map[uint64]Subscriber
	nextID      uint64
	logger      *logger
}

// NewFanout is a constructor method for the Fanout struct.
func NewFanout() *Fanout {
	return &Fanout{
		online:      make(map[string]map[string]struct{}),
		subscribers: make(map[string]map[uint64]Subscriber),
	}
}

// Subscribe registers fn for teamID and immediately delivers the current
// online set (possibly empty) so late subscribers are not left stale. The
// returned function removes the subscription.
func (f *Fanout) Subscribe(teamID string, fn Subscriber) func() {
	f.mu.Lock()
	if f.subscribers[teamID] == nil {
		f.subscribers[teamID] = make(map[uint64]Subscriber)
	}
	f.nextID++
	id := f.nextID
	f.subscribers[teamID][id] = fn
	initial := copySet(f.online[teamID])
	f.mu.Unlock()

	numSubscribersGauge.Inc()
	f.invoke(teamID, fn, initial)

	return func() {
		f.mu.Lock()
		subs, ok := f.subscribers[teamID]
		if !ok {
			f.mu.Unlock()
			return
		}
		if _, ok := subs[id]; !ok {
			f.mu.Unlock()
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(f.subscribers, teamID)
		}
		f.mu.Unlock()
		numSubscribersGauge.Dec()
	}
}

// Replace stores online as the new canonical set for teamID and notifies
// every subscriber with its own copy.
func (f *Fanout) Replace(teamID string, online map[string]struct{}) {
	if online == nil {
		online = make(map[string]struct{})
	}

	f.mu.Lock()
	f.online[teamID] = online
	subs := f.collectSubscribers(teamID)
	f.mu.Unlock()

	f.notify(teamID, subs, online)
}

// Clear drops the stored set for teamID and notifies subscribers with an
// empty set. Called when the team's session is destroyed.
func (f *Fanout) Clear(teamID string) {
	f.mu.Lock()
	delete(f.online, teamID)
	subs := f.collectSubscribers(teamID)
	f.mu.Unlock()

	f.notify(teamID, subs, nil)
}

// OnlineIDs returns a copy of the current online set for teamID.
func (f *Fanout) OnlineIDs(teamID string) map[string]struct{} {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return copySet(f.online[teamID])
}

// NumSubscribers ...
func (f *Fanout) NumSubscribers(teamID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.subscribers[teamID])
}

func (f *Fanout) collectSubscribers(teamID string) []Subscriber {
	subs := make([]Subscriber, 0, len(f.subscribers[teamID]))
	for _, fn := range f.subscribers[teamID] {
		subs = append(subs, fn)
	}
	return subs
}

// notify runs outside the fanout lock so callbacks may call back into the
// engine. Every callback gets its own copy of the set.
func (f *Fanout) notify(teamID string, subs []Subscriber, online map[string]struct{}) {
	if len(subs) == 0 {
		return
	}

	started := time.Now()
	for _, fn := range subs {
		f.invoke(teamID, fn, copySet(online))
	}
	notifyDurationHistogram.Observe(time.Since(started).Seconds())
}

// invoke isolates a single callback: a panic is recovered and logged, it
// never prevents remaining subscribers from running.
func (f *Fanout) invoke(teamID string, fn Subscriber, online map[string]struct{}) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.log(NewLogEntry(LogLevelError, "subscriber callback panicked", map[string]interface{}{"team": teamID, "panic": r}))
		}
	}()
	fn(online)
}

func copySet(set map[string]struct{}) map[string]struct{} {
	copied := make(map[string]struct{}, len(set))
	for id := range set {
		copied[id] = struct{}{}
	}
	return copied
}
