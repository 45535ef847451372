package state

import "github.com/ybrake1950/planning-poker/internal/poker/domain"

// PlayerView is the wire-visible projection of a player.
type PlayerView struct {
	HasVoted    bool `json:"hasVoted"`
	Vote        *int `json:"vote"`
	IsSpectator bool `json:"isSpectator"`
}

// SessionView is the wire-visible projection of a session, broadcast to all
// participants on every state change.
type SessionView struct {
	SessionCode   string                `json:"sessionCode"`
	Players       map[string]PlayerView `json:"players"`
	VotesRevealed bool                  `json:"votesRevealed"`
	HasConsensus  bool                  `json:"hasConsensus"`
}

// Project builds the outward-facing state. The persisted vote is the source
// of truth, but it must never leak pre-reveal: every vote reads as null until
// VotesRevealed is set.
func Project(session domain.Session) SessionView {
	view := SessionView{
		SessionCode:   session.Code,
		Players:       make(map[string]PlayerView, len(session.Players)),
		VotesRevealed: session.VotesRevealed,
		HasConsensus:  Consensus(session),
	}
	for name, player := range session.Players {
		pv := PlayerView{
			HasVoted:    player.HasVoted,
			IsSpectator: player.IsSpectator,
		}
		if session.VotesRevealed && player.Vote != nil {
			vote := *player.Vote
			pv.Vote = &vote
		}
		view.Players[name] = pv
	}
	return view
}
