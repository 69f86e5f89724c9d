package domain

import "errors"

// Domain errors
var (
	ErrRankListNotFound = errors.New("ranklist not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyMember    = errors.New("already a member of this ranklist")
	ErrNotMember        = errors.New("not a member of this ranklist")
	ErrUnauthorized     = errors.New("authentication required")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidRecord    = errors.New("invalid stat record")
	ErrInternalError    = errors.New("internal server error")
)

// GenericFailureMessage is shown to callers when a storage error was swallowed at the boundary.
const GenericFailureMessage = "Something went wrong"

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrRankListNotFound) || errors.Is(err, ErrUserNotFound)
}

// IsMembershipConflict reports whether err is a join/leave precondition failure.
func IsMembershipConflict(err error) bool {
	return errors.Is(err, ErrAlreadyMember) || errors.Is(err, ErrNotMember)
}
