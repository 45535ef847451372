// Package domain defines the planning-poker session model and its invariants.
package domain

import (
	"time"
)

// MaxPlayerNameLength bounds player names within a session.
const MaxPlayerNameLength = 20

// Player is a named participant in a session. A player is either a voter or
// a spectator; the role is fixed at join time.
type Player struct {
	Name        string
	IsSpectator bool
	HasVoted    bool
	Vote        *int // nil until a vote is cast
	JoinedAt    time.Time
}

// Session is one planning-poker room, keyed by a shareable code.
type Session struct {
	Code           string
	Players        map[string]Player
	VotesRevealed  bool
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// NewSession creates an empty session with the given code and timestamps.
func NewSession(code string, now time.Time) Session {
	now = now.UTC()
	return Session{
		Code:           code,
		Players:        make(map[string]Player),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep copy of the session. Mutating the copy never affects
// the original, including player vote pointers.
func (s Session) Clone() Session {
	clone := s
	clone.Players = make(map[string]Player, len(s.Players))
	for name, player := range s.Players {
		if player.Vote != nil {
			vote := *player.Vote
			player.Vote = &vote
		}
		clone.Players[name] = player
	}
	return clone
}

// VoterCount returns the number of non-spectator players.
func (s Session) VoterCount() int {
	count := 0
	for _, player := range s.Players {
		if !player.IsSpectator {
			count++
		}
	}
	return count
}

// AllVotersVoted reports whether every non-spectator player has voted and at
// least one such player exists.
func (s Session) AllVotersVoted() bool {
	voters := 0
	for _, player := range s.Players {
		if player.IsSpectator {
			continue
		}
		voters++
		if !player.HasVoted {
			return false
		}
	}
	return voters > 0
}
