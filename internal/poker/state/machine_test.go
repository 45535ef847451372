package state

import (
	"errors"
	"strings"
	"testing"
	"time"

	platformerrors "github.com/ybrake1950/planning-poker/internal/platform/errors"
	"github.com/ybrake1950/planning-poker/internal/poker/domain"
)

var testTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func joinAll(t *testing.T, session domain.Session, voters []string, spectators []string) domain.Session {
	t.Helper()
	for _, name := range voters {
		next, err := Join(session, name, false, testTime)
		if err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
		session = next
	}
	for _, name := range spectators {
		next, err := Join(session, name, true, testTime)
		if err != nil {
			t.Fatalf("join spectator %s: %v", name, err)
		}
		session = next
	}
	return session
}

func wantCode(t *testing.T, err error, code platformerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := platformerrors.CodeOf(err); got != code {
		t.Fatalf("error code = %s, want %s", got, code)
	}
}

func TestJoinValidation(t *testing.T) {
	session := domain.NewSession("ABCD1234", testTime)

	_, err := Join(session, "", false, testTime)
	wantCode(t, err, platformerrors.CodeInvalidName)

	_, err = Join(session, strings.Repeat("x", 21), false, testTime)
	wantCode(t, err, platformerrors.CodeInvalidName)

	session = joinAll(t, session, []string{"Alice"}, nil)
	_, err = Join(session, "Alice", false, testTime)
	wantCode(t, err, platformerrors.CodeNameTaken)
}

func TestJoinDoesNotMutateInput(t *testing.T) {
	session := domain.NewSession("ABCD1234", testTime)
	next, err := Join(session, "Alice", false, testTime)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(session.Players) != 0 {
		t.Fatal("input session mutated by Join")
	}
	if _, ok := next.Players["Alice"]; !ok {
		t.Fatal("joined player missing from next state")
	}
}

func TestCastVoteErrors(t *testing.T) {
	session := joinAll(t, domain.NewSession("ABCD1234", testTime), []string{"Alice"}, []string{"Bob"})

	_, err := CastVote(session, "Mallory", 5, testTime)
	wantCode(t, err, platformerrors.CodeNotInSession)

	_, err = CastVote(session, "Bob", 5, testTime)
	wantCode(t, err, platformerrors.CodeSpectatorCannotVote)

	_, err = CastVote(session, "Alice", 4, testTime)
	wantCode(t, err, platformerrors.CodeInvalidVote)
}

func TestAutoRevealOnLastVoter(t *testing.T) {
	session := joinAll(t, domain.NewSession("ABCD1234", testTime), []string{"Alice", "Carol", "Dave"}, []string{"Bob"})

	var err error
	session, err = CastVote(session, "Alice", 5, testTime)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if session.VotesRevealed {
		t.Fatal("revealed after 1 of 3 voters")
	}

	session, err = CastVote(session, "Carol", 8, testTime)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if session.VotesRevealed {
		t.Fatal("revealed after 2 of 3 voters")
	}

	session, err = CastVote(session, "Dave", 5, testTime)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !session.VotesRevealed {
		t.Fatal("not revealed after final voter")
	}
}

func TestReVotingAfterRevealAllowed(t *testing.T) {
	session := joinAll(t, domain.NewSession("ABCD1234", testTime), []string{"Alice", "Carol"}, nil)

	var err error
	session, err = CastVote(session, "Alice", 5, testTime)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	session, err = CastVote(session, "Carol", 8, testTime)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !session.VotesRevealed {
		t.Fatal("expected reveal")
	}
	if Consensus(session) {
		t.Fatal("5 vs 8 should not reach consensus")
	}

	session, err = CastVote(session, "Carol", 5, testTime)
	if err != nil {
		t.Fatalf("re-vote after reveal: %v", err)
	}
	if !Consensus(session) {
		t.Fatal("matching re-vote should reach consensus")
	}
}

func TestResetVotes(t *testing.T) {
	session := joinAll(t, domain.NewSession("ABCD1234", testTime), []string{"Alice"}, []string{"Bob"})

	var err error
	session, err = CastVote(session, "Alice", 5, testTime)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !session.VotesRevealed {
		t.Fatal("single voter should auto-reveal")
	}

	_, err = ResetVotes(session, "Alice", testTime)
	wantCode(t, err, platformerrors.CodeNotSpectator)

	_, err = ResetVotes(session, "Mallory", testTime)
	wantCode(t, err, platformerrors.CodeNotInSession)

	session, err = ResetVotes(session, "Bob", testTime)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if session.VotesRevealed {
		t.Fatal("reset should hide votes")
	}
	alice := session.Players["Alice"]
	if alice.HasVoted || alice.Vote != nil {
		t.Fatal("reset should clear votes")
	}
}

func TestResetIsIdempotent(t *testing.T) {
	session := joinAll(t, domain.NewSession("ABCD1234", testTime), []string{"Alice"}, []string{"Bob"})

	var err error
	session, err = CastVote(session, "Alice", 13, testTime)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}

	once, err := ResetVotes(session, "Bob", testTime)
	if err != nil {
		t.Fatalf("first reset: %v", err)
	}
	twice, err := ResetVotes(once, "Bob", testTime)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}

	if once.VotesRevealed != twice.VotesRevealed {
		t.Fatal("double reset changed reveal state")
	}
	for name, p := range twice.Players {
		q := once.Players[name]
		if p.HasVoted != q.HasVoted || (p.Vote == nil) != (q.Vote == nil) {
			t.Fatalf("double reset changed player %s", name)
		}
	}
}

func TestRemovePlayer(t *testing.T) {
	session := joinAll(t, domain.NewSession("ABCD1234", testTime), []string{"Alice", "Carol"}, nil)

	next, err := RemovePlayer(session, "Alice", testTime)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := next.Players["Alice"]; ok {
		t.Fatal("player not removed")
	}

	_, err = RemovePlayer(next, "Alice", testTime)
	if !errors.Is(err, platformerrors.New(platformerrors.CodeNotInSession, "")) {
		t.Fatalf("second remove error = %v, want NOT_IN_SESSION", err)
	}
}

func TestConsensus(t *testing.T) {
	session := joinAll(t, domain.NewSession("ABCD1234", testTime), []string{"Alice", "Carol"}, []string{"Bob"})

	if Consensus(session) {
		t.Fatal("no votes, no consensus")
	}

	var err error
	session, err = CastVote(session, "Alice", 5, testTime)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if Consensus(session) {
		t.Fatal("pre-reveal state must never report consensus")
	}

	session, err = CastVote(session, "Carol", 5, testTime)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !Consensus(session) {
		t.Fatal("equal revealed votes should reach consensus")
	}
}
