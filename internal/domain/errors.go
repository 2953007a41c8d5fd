package domain

import "errors"

// Domain errors
var (
	ErrInvalidState      = errors.New("operation not valid in current state")
	ErrDuplicateAction   = errors.New("action already submitted for this round")
	ErrAuctionNotActive  = errors.New("auction is not active")
	ErrBidTooLow         = errors.New("bid is not above the current highest bid")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotParticipant    = errors.New("account is not a participant")

	ErrChallengeNotFound = errors.New("challenge not found")
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrSkillNotFound     = errors.New("skill not found")
	ErrItemNotFound      = errors.New("item not found")

	ErrInvalidAction      = errors.New("invalid combat action")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvariantViolation = errors.New("internal invariant violated")
	ErrInternalError      = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrChallengeNotFound) ||
		errors.Is(err, ErrAuctionNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSkillNotFound) ||
		errors.Is(err, ErrItemNotFound)
}

// IsConflictError reports whether err is an expected lifecycle or ordering rejection.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicateAction) ||
		errors.Is(err, ErrAuctionNotActive) ||
		errors.Is(err, ErrBidTooLow)
}
