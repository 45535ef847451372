// Package service coordinates session state, connections, and fan-out. It is
// the single consumer of the state machine: the transport hands it inbound
// events and it returns the caller's view after persisting and broadcasting.
package service

import (
	"context"
	goerrors "errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ybrake1950/planning-poker/internal/platform/errors"
	"github.com/ybrake1950/planning-poker/internal/platform/timeouts"
	"github.com/ybrake1950/planning-poker/internal/poker/broadcast"
	"github.com/ybrake1950/planning-poker/internal/poker/domain"
	"github.com/ybrake1950/planning-poker/internal/poker/lifecycle"
	"github.com/ybrake1950/planning-poker/internal/poker/registry"
	"github.com/ybrake1950/planning-poker/internal/poker/state"
	"github.com/ybrake1950/planning-poker/internal/poker/storage"
)

// Outbound event types broadcast to session participants.
const (
	EventState        = "poker.state"
	EventVotesReset   = "poker.reset_done"
	EventPlayerLeft   = "poker.player_left"
	EventSessionEnded = "poker.session_ended"
)

// PlayerLeftPayload announces a permanent leave.
type PlayerLeftPayload struct {
	PlayerName string `json:"playerName"`
}

// SessionEndedPayload announces an evicted session.
type SessionEndedPayload struct {
	Reason string `json:"reason"`
}

// Config carries the coordinator's dependencies.
type Config struct {
	Store    storage.SessionStore
	Registry *registry.Registry
	Sender   broadcast.Sender

	// IdleTimeout overrides the default 2h session idle window.
	IdleTimeout time.Duration
	// EmptyGrace overrides how long a session with no connections survives.
	EmptyGrace time.Duration
}

// Coordinator owns the join/vote/reset/leave flow for all sessions.
type Coordinator struct {
	store       storage.SessionStore
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	lifecycle   *lifecycle.Manager
	emptyGrace  time.Duration
	clock       func() time.Time
	newCode     func() (string, error)
}

// New creates a coordinator with default clock and code generator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("connection registry is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}

	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = timeouts.SessionIdle
	}
	emptyGrace := cfg.EmptyGrace
	if emptyGrace <= 0 {
		emptyGrace = timeouts.EmptySessionGrace
	}

	c := &Coordinator{
		store:       cfg.Store,
		registry:    cfg.Registry,
		broadcaster: broadcast.New(cfg.Registry, cfg.Sender),
		emptyGrace:  emptyGrace,
		clock:       time.Now,
		newCode:     domain.NewSessionCode,
	}
	c.lifecycle = lifecycle.NewManager(c.evict, lifecycle.WithIdleTimeout(idle))
	return c, nil
}

// Close stops lifecycle timers and waits for in-flight broadcasts.
func (c *Coordinator) Close() {
	c.lifecycle.Stop()
	c.broadcaster.Wait()
}

// Join adds the caller to a session, creating the session when the code is
// unknown or blank. A player name held by a live connection is taken; the
// same name with no live connection is a reconnect that preserves the
// player's vote state.
func (c *Coordinator) Join(ctx context.Context, connID, sessionCode, playerName string, isSpectator bool) (string, state.SessionView, error) {
	playerName = strings.TrimSpace(playerName)
	if err := state.ValidatePlayerName(playerName); err != nil {
		return "", state.SessionView{}, err
	}
	now := c.clock()

	sessionCode = domain.NormalizeSessionCode(sessionCode)
	if sessionCode == "" {
		code, err := c.newCode()
		if err != nil {
			return "", state.SessionView{}, errors.Wrap(errors.CodeUnknown, "generate session code", err)
		}
		sessionCode = code
	}

	session, err := c.store.Get(ctx, sessionCode)
	switch {
	case err == nil:
		session, err = c.joinExisting(ctx, session, connID, playerName, isSpectator, now)
		if err != nil {
			return "", state.SessionView{}, err
		}
	case goerrors.Is(err, storage.ErrNotFound):
		session, err = c.createWithPlayer(ctx, sessionCode, connID, playerName, isSpectator, now)
		if err != nil {
			return "", state.SessionView{}, err
		}
	default:
		return "", state.SessionView{}, errors.Wrap(errors.CodeUnknown, "load session", err)
	}

	c.registry.Bind(connID, sessionCode, playerName, isSpectator)
	view := state.Project(session)
	c.broadcaster.Broadcast(sessionCode, broadcast.Message{Type: EventState, Payload: view})
	c.lifecycle.Touch(sessionCode)
	return sessionCode, view, nil
}

func (c *Coordinator) joinExisting(ctx context.Context, session domain.Session, connID, playerName string, isSpectator bool, now time.Time) (domain.Session, error) {
	if _, exists := session.Players[playerName]; exists {
		if holder, live := c.liveBinding(session.Code, playerName); live && holder != connID {
			return domain.Session{}, errors.WithMetadata(errors.CodeNameTaken, "player name is taken by a live connection", map[string]string{
				"name": playerName,
			})
		}
		// Reconnect: rebind only, the player's vote state is untouched.
		return session, nil
	}

	updated, err := c.store.ApplyUpdate(ctx, session.Code, func(s *domain.Session) error {
		next, err := state.Join(*s, playerName, isSpectator, now)
		if err != nil {
			return err
		}
		*s = next
		return nil
	})
	if err != nil {
		return domain.Session{}, c.mapStorageError(err, session.Code)
	}
	return updated, nil
}

func (c *Coordinator) createWithPlayer(ctx context.Context, sessionCode, connID, playerName string, isSpectator bool, now time.Time) (domain.Session, error) {
	session, err := state.Join(domain.NewSession(sessionCode, now), playerName, isSpectator, now)
	if err != nil {
		return domain.Session{}, err
	}
	err = c.store.Create(ctx, session)
	if goerrors.Is(err, storage.ErrAlreadyExists) {
		// Lost a creation race; join the session that won.
		existing, getErr := c.store.Get(ctx, sessionCode)
		if getErr != nil {
			return domain.Session{}, c.mapStorageError(getErr, sessionCode)
		}
		return c.joinExisting(ctx, existing, connID, playerName, isSpectator, now)
	}
	if err != nil {
		return domain.Session{}, errors.Wrap(errors.CodeUnknown, "create session", err)
	}
	return session, nil
}

// CastVote records the caller's vote and broadcasts the resulting state,
// auto-revealing when the last voter votes.
func (c *Coordinator) CastVote(ctx context.Context, connID string, vote int) (state.SessionView, error) {
	binding, ok := c.registry.Resolve(connID)
	if !ok {
		return state.SessionView{}, errors.New(errors.CodeNotInSession, "connection has not joined a session")
	}
	now := c.clock()

	session, err := c.store.ApplyUpdate(ctx, binding.SessionCode, func(s *domain.Session) error {
		next, err := state.CastVote(*s, binding.PlayerName, vote, now)
		if err != nil {
			return err
		}
		*s = next
		return nil
	})
	if err != nil {
		return state.SessionView{}, c.mapStorageError(err, binding.SessionCode)
	}

	view := state.Project(session)
	c.broadcaster.Broadcast(binding.SessionCode, broadcast.Message{Type: EventState, Payload: view})
	c.lifecycle.Touch(binding.SessionCode)
	return view, nil
}

// ResetVotes clears the round. Only spectators may trigger it.
func (c *Coordinator) ResetVotes(ctx context.Context, connID string) (state.SessionView, error) {
	binding, ok := c.registry.Resolve(connID)
	if !ok {
		return state.SessionView{}, errors.New(errors.CodeNotInSession, "connection has not joined a session")
	}
	now := c.clock()

	session, err := c.store.ApplyUpdate(ctx, binding.SessionCode, func(s *domain.Session) error {
		next, err := state.ResetVotes(*s, binding.PlayerName, now)
		if err != nil {
			return err
		}
		*s = next
		return nil
	})
	if err != nil {
		return state.SessionView{}, c.mapStorageError(err, binding.SessionCode)
	}

	view := state.Project(session)
	c.broadcaster.Broadcast(binding.SessionCode, broadcast.Message{Type: EventVotesReset, Payload: struct{}{}})
	c.broadcaster.Broadcast(binding.SessionCode, broadcast.Message{Type: EventState, Payload: view})
	c.lifecycle.Touch(binding.SessionCode)
	return view, nil
}

// Disconnect handles a dropped transport connection. The player entry stays
// in the session so a reconnect under the same name resumes with its vote
// intact. A session left with no connections gets a short grace window
// before eviction.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	binding, ok := c.registry.Resolve(connID)
	if !ok {
		return
	}
	c.registry.Unbind(connID)

	if len(c.registry.ListBySession(binding.SessionCode)) == 0 {
		c.lifecycle.ScheduleAfter(binding.SessionCode, c.emptyGrace)
	}
}

// Leave handles a permanent departure: the connection unbinds and the player
// entry is removed from the session.
func (c *Coordinator) Leave(ctx context.Context, connID string) error {
	binding, ok := c.registry.Resolve(connID)
	if !ok {
		return errors.New(errors.CodeNotInSession, "connection has not joined a session")
	}
	now := c.clock()
	c.registry.Unbind(connID)

	session, err := c.store.ApplyUpdate(ctx, binding.SessionCode, func(s *domain.Session) error {
		next, err := state.RemovePlayer(*s, binding.PlayerName, now)
		if err != nil {
			return err
		}
		*s = next
		return nil
	})
	if err != nil {
		mapped := c.mapStorageError(err, binding.SessionCode)
		// The session may already be gone; the leave still succeeded.
		if errors.CodeOf(mapped) == errors.CodeSessionNotFound {
			return nil
		}
		return mapped
	}

	c.broadcaster.Broadcast(binding.SessionCode, broadcast.Message{
		Type:    EventPlayerLeft,
		Payload: PlayerLeftPayload{PlayerName: binding.PlayerName},
	})
	c.broadcaster.Broadcast(binding.SessionCode, broadcast.Message{Type: EventState, Payload: state.Project(session)})

	if len(c.registry.ListBySession(binding.SessionCode)) == 0 {
		c.lifecycle.ScheduleAfter(binding.SessionCode, c.emptyGrace)
	} else {
		c.lifecycle.Touch(binding.SessionCode)
	}
	return nil
}

// evict runs when a session's timer fires. A session is evicted when its
// last activity exceeds the idle window or no live connections remain;
// otherwise the timer is pushed out by the remaining idle budget.
func (c *Coordinator) evict(code string) {
	ctx := context.Background()

	session, err := c.store.Get(ctx, code)
	if goerrors.Is(err, storage.ErrNotFound) {
		c.registry.DropSession(code)
		return
	}
	if err != nil {
		log.Printf("evict session=%s: load failed: %v", code, err)
		c.lifecycle.ScheduleAfter(code, c.emptyGrace)
		return
	}

	bindings := c.registry.ListBySession(code)
	idleFor := c.clock().Sub(session.LastActivityAt)
	if idleFor < c.lifecycle.IdleTimeout() && len(bindings) > 0 {
		c.lifecycle.ScheduleAfter(code, c.lifecycle.IdleTimeout()-idleFor)
		return
	}

	// Notify members first, then delete.
	c.broadcaster.BroadcastTo(bindings, broadcast.Message{
		Type:    EventSessionEnded,
		Payload: SessionEndedPayload{Reason: "session expired after inactivity"},
	})
	if err := c.store.Delete(ctx, code); err != nil {
		log.Printf("evict session=%s: delete failed: %v", code, err)
	}
	c.registry.DropSession(code)
	log.Printf("session evicted code=%s players=%d idle=%s", code, len(session.Players), idleFor)
}

// Binding reports the session binding for a connection, if any.
func (c *Coordinator) Binding(connID string) (registry.Binding, bool) {
	return c.registry.Resolve(connID)
}

// liveBinding reports which connection, if any, currently holds playerName
// in the session.
func (c *Coordinator) liveBinding(sessionCode, playerName string) (string, bool) {
	for _, binding := range c.registry.ListBySession(sessionCode) {
		if binding.PlayerName == playerName {
			return binding.ConnID, true
		}
	}
	return "", false
}

func (c *Coordinator) mapStorageError(err error, sessionCode string) error {
	switch {
	case goerrors.Is(err, storage.ErrNotFound):
		return errors.WithMetadata(errors.CodeSessionNotFound, "session not found", map[string]string{
			"sessionCode": sessionCode,
		})
	case goerrors.Is(err, storage.ErrConflict):
		return errors.Wrap(errors.CodeConflict, "session update contention exceeded retry budget", err)
	default:
		if code := errors.CodeOf(err); code != errors.CodeUnknown {
			return err
		}
		return errors.Wrap(errors.CodeUnknown, "session update failed", err)
	}
}
