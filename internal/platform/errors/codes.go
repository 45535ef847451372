// Package errors provides structured error handling with machine-readable codes.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Join errors
	CodeInvalidName Code = "INVALID_NAME"
	CodeNameTaken   Code = "NAME_TAKEN"

	// Voting errors
	CodeNotInSession       Code = "NOT_IN_SESSION"
	CodeSpectatorCannotVote Code = "SPECTATOR_CANNOT_VOTE"
	CodeInvalidVote        Code = "INVALID_VOTE"
	CodeNotSpectator       Code = "NOT_SPECTATOR"

	// Session errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeConflict      Code = "CONFLICT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidName,
		CodeInvalidVote:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeNotInSession,
		CodeSpectatorCannotVote,
		CodeNotSpectator:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeSessionNotFound,
		CodeNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeNameTaken,
		CodeAlreadyExists:
		return codes.AlreadyExists

	// Aborted - contention exceeded the retry budget
	case CodeConflict:
		return codes.Aborted

	default:
		return codes.Internal
	}
}
