package presence

import (
	"context"
	"sync"
	"time"
)

// ControllerState ...
type ControllerState int

const (
	StateIdle ControllerState = iota
	StateStarting
	StateActive
	StateTearingDown
)

// Profile is the resolved identity of the current user, including team
// memberships, as returned by the member directory.
type Profile struct {
	MemberID    string
	DisplayName string
	Role        string
	TeamIDs     []string
}

// Directory resolves the current user's profile. A nil profile with a nil
// error is a valid outcome meaning no matching profile exists.
type Directory interface {
	ResolveCurrentProfile(ctx context.Context) (*Profile, error)
}

// StoreFunc is the UI-facing store receiving online set updates per team.
// The set must be treated as read-only.
type StoreFunc func(teamID string, online map[string]struct{})

// Controller binds the engine's running sessions to the caller's
// authentication lifecycle: it starts a session per team membership on
// identity resolution and tears everything down when the session ends.
type Controller struct {
	mu        sync.Mutex
	engine    *Engine
	directory Directory
	store     StoreFunc
	state     ControllerState
	teamIDs   []string
	unsubs    []func()
}

// NewController ...
func NewController(engine *Engine, directory Directory, store StoreFunc) *Controller {
	return &Controller{
		engine:    engine,
		directory: directory,
		store:     store,
		state:     StateIdle,
	}
}

// State ...
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Start resolves the current profile and opens a presence session for each
// team membership, subscribing the store to every team. A resolution
// failure or an empty membership list keeps the controller Idle: presence
// simply shows nothing, no error reaches the UI.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateStarting
	c.mu.Unlock()

	profile, err := c.directory.ResolveCurrentProfile(ctx)
	if err != nil {
		c.engine.logger.log(NewLogEntry(LogLevelInfo, "presence disabled: profile resolution failed", map[string]interface{}{"error": err.Error()}))
		c.reset()
		return
	}
	if profile == nil || len(profile.TeamIDs) == 0 {
		c.engine.logger.log(NewLogEntry(LogLevelInfo, "presence disabled: no profile or team memberships"))
		c.reset()
		return
	}

	teamIDs := make([]string, 0, len(profile.TeamIDs))
	unsubs := make([]func(), 0, len(profile.TeamIDs))

	for _, teamID := range profile.TeamIDs {
		payload := PresencePayload{
			MemberID:    profile.MemberID,
			DisplayName: profile.DisplayName,
			Role:        profile.Role,
			TeamID:      teamID,
			AnnouncedAt: time.Now().Unix(),
		}
		c.engine.Open(teamID, payload)

		id := teamID
		unsub := c.engine.Subscribe(teamID, func(online map[string]struct{}) {
			c.store(id, online)
		})

		teamIDs = append(teamIDs, teamID)
		unsubs = append(unsubs, unsub)
	}

	c.mu.Lock()
	if c.state != StateStarting {
		// The session ended while sessions were being opened. Roll the
		// just-opened sessions back instead of resurrecting the
		// controller with sessions nothing will ever tear down.
		c.mu.Unlock()
		for _, teamID := range teamIDs {
			c.engine.Close(teamID)
		}
		for _, unsub := range unsubs {
			unsub()
		}
		return
	}
	c.teamIDs = teamIDs
	c.unsubs = unsubs
	c.state = StateActive
	c.mu.Unlock()
}

// Stop tears down every session this controller started. Teardowns run to
// completion before the controller reports Idle, so a caller observing Idle
// knows all transport teardowns were at least attempted.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateStarting {
		c.mu.Unlock()
		return
	}
	c.state = StateTearingDown
	teamIDs := c.teamIDs
	unsubs := c.unsubs
	c.teamIDs = nil
	c.unsubs = nil
	c.mu.Unlock()

	for _, teamID := range teamIDs {
		c.engine.Close(teamID)
	}
	for _, unsub := range unsubs {
		unsub()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// HandleSession reacts to the external session signal. Only the ended case
// triggers teardown.
func (c *Controller) HandleSession(active bool) {
	if !active {
		c.Stop()
	}
}

func (c *Controller) reset() {
	c.mu.Lock()
	if c.state == StateStarting {
		c.state = StateIdle
	}
	c.mu.Unlock()
}
