// Package state implements the voting state machine as pure transitions over
// domain.Session. Callers pass the previous state and receive the next one;
// persistence and fan-out are owned elsewhere.
package state

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ybrake1950/planning-poker/internal/platform/errors"
	"github.com/ybrake1950/planning-poker/internal/poker/domain"
)

// ValidatePlayerName checks the name constraints shared by all join paths.
func ValidatePlayerName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New(errors.CodeInvalidName, "player name is required")
	}
	if utf8.RuneCountInString(name) > domain.MaxPlayerNameLength {
		return errors.WithMetadata(errors.CodeInvalidName, "player name exceeds 20 characters", map[string]string{
			"name": name,
		})
	}
	return nil
}

// Join inserts a fresh player into the session. The caller decides whether
// this is a reconnect before calling; a name collision here is always an
// error.
func Join(session domain.Session, name string, isSpectator bool, now time.Time) (domain.Session, error) {
	if err := ValidatePlayerName(name); err != nil {
		return session, err
	}
	if _, exists := session.Players[name]; exists {
		return session, errors.WithMetadata(errors.CodeNameTaken, "player name is taken", map[string]string{
			"name": name,
		})
	}

	next := session.Clone()
	next.Players[name] = domain.Player{
		Name:        name,
		IsSpectator: isSpectator,
		JoinedAt:    now.UTC(),
	}
	next.LastActivityAt = now.UTC()
	return next, nil
}

// CastVote records a vote for the named player and applies the auto-reveal
// rule: once every non-spectator has voted, votes become visible. Re-voting
// after reveal is permitted; consensus is recomputed on the next broadcast.
func CastVote(session domain.Session, name string, vote int, now time.Time) (domain.Session, error) {
	player, ok := session.Players[name]
	if !ok {
		return session, errors.New(errors.CodeNotInSession, "caller has not joined the session")
	}
	if player.IsSpectator {
		return session, errors.New(errors.CodeSpectatorCannotVote, "spectators cannot vote")
	}
	if !domain.ValidVote(vote) {
		return session, errors.WithMetadata(errors.CodeInvalidVote, "vote is not on the scale", map[string]string{
			"vote": strconv.Itoa(vote),
		})
	}

	next := session.Clone()
	player = next.Players[name]
	player.HasVoted = true
	player.Vote = &vote
	next.Players[name] = player
	if next.AllVotersVoted() {
		next.VotesRevealed = true
	}
	next.LastActivityAt = now.UTC()
	return next, nil
}

// ResetVotes clears every player's vote and hides votes again. Only a
// spectator may trigger a reset.
func ResetVotes(session domain.Session, name string, now time.Time) (domain.Session, error) {
	player, ok := session.Players[name]
	if !ok {
		return session, errors.New(errors.CodeNotInSession, "caller has not joined the session")
	}
	if !player.IsSpectator {
		return session, errors.New(errors.CodeNotSpectator, "only spectators can reset votes")
	}

	next := session.Clone()
	for playerName, p := range next.Players {
		p.HasVoted = false
		p.Vote = nil
		next.Players[playerName] = p
	}
	next.VotesRevealed = false
	next.LastActivityAt = now.UTC()
	return next, nil
}

// RemovePlayer deletes a player on a permanent leave. A dropped connection
// alone never reaches here; reconnect semantics keep the player entry.
func RemovePlayer(session domain.Session, name string, now time.Time) (domain.Session, error) {
	if _, ok := session.Players[name]; !ok {
		return session, errors.New(errors.CodeNotInSession, "caller has not joined the session")
	}

	next := session.Clone()
	delete(next.Players, name)
	next.LastActivityAt = now.UTC()
	return next, nil
}

// Consensus reports whether all counted votes in a revealed round agree.
// It is a derived property, recomputed on every broadcast, never stored.
func Consensus(session domain.Session) bool {
	if !session.VotesRevealed {
		return false
	}
	first := 0
	counted := 0
	for _, player := range session.Players {
		if player.IsSpectator || !player.HasVoted || player.Vote == nil {
			continue
		}
		if counted == 0 {
			first = *player.Vote
		} else if *player.Vote != first {
			return false
		}
		counted++
	}
	return counted > 0
}
