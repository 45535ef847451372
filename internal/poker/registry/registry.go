// Package registry maps live transport connections to the player identity
// they represent, supporting O(1) dispatch and per-session fan-out.
package registry

import "sync"

// Binding denormalizes a player's identity onto its connection so inbound
// events dispatch without reloading the session.
type Binding struct {
	ConnID      string
	SessionCode string
	PlayerName  string
	IsSpectator bool
}

// Registry tracks connection bindings. All methods are safe for concurrent
// use and reads reflect prior binds immediately.
type Registry struct {
	mu        sync.RWMutex
	byConn    map[string]Binding
	bySession map[string]map[string]string // code -> player name -> conn id
}

// New creates an empty connection registry.
func New() *Registry {
	return &Registry{
		byConn:    make(map[string]Binding),
		bySession: make(map[string]map[string]string),
	}
}

// Bind associates a connection with a player in a session. Binding a player
// name already held by another live connection supersedes the old binding:
// the stale connection is dropped and the new one takes over. Session player
// state is never touched here.
func (r *Registry) Bind(connID, sessionCode, playerName string, isSpectator bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.bySession[sessionCode][playerName]; ok && previous != connID {
		r.unbindLocked(previous)
	}
	r.unbindLocked(connID)

	r.byConn[connID] = Binding{
		ConnID:      connID,
		SessionCode: sessionCode,
		PlayerName:  playerName,
		IsSpectator: isSpectator,
	}
	players, ok := r.bySession[sessionCode]
	if !ok {
		players = make(map[string]string)
		r.bySession[sessionCode] = players
	}
	players[playerName] = connID
}

// Resolve returns the binding for a connection id.
func (r *Registry) Resolve(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, ok := r.byConn[connID]
	return binding, ok
}

// Unbind drops the binding for a connection id. Unknown ids are ignored.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unbindLocked(connID)
}

func (r *Registry) unbindLocked(connID string) {
	binding, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)

	players, ok := r.bySession[binding.SessionCode]
	if !ok {
		return
	}
	// Only clear the reverse entry if it still points at this connection;
	// a reconnect may already have claimed the name.
	if players[binding.PlayerName] == connID {
		delete(players, binding.PlayerName)
	}
	if len(players) == 0 {
		delete(r.bySession, binding.SessionCode)
	}
}

// ListBySession returns all live bindings for a session code.
func (r *Registry) ListBySession(sessionCode string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players, ok := r.bySession[sessionCode]
	if !ok {
		return nil
	}
	bindings := make([]Binding, 0, len(players))
	for _, connID := range players {
		if binding, ok := r.byConn[connID]; ok {
			bindings = append(bindings, binding)
		}
	}
	return bindings
}

// DropSession removes every binding for a session, returning the dropped
// bindings so callers can close the underlying connections.
func (r *Registry) DropSession(sessionCode string) []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	players, ok := r.bySession[sessionCode]
	if !ok {
		return nil
	}
	dropped := make([]Binding, 0, len(players))
	for _, connID := range players {
		if binding, ok := r.byConn[connID]; ok {
			dropped = append(dropped, binding)
			delete(r.byConn, connID)
		}
	}
	delete(r.bySession, sessionCode)
	return dropped
}
