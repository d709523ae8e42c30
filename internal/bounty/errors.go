package bounty

import "errors"

var (
	// ErrNotFound means the referenced bounty or dispute does not exist.
	ErrNotFound = errors.New("bounty not found")

	// ErrDisputeNotFound means the bounty has no dispute record.
	ErrDisputeNotFound = errors.New("dispute not found")

	// ErrInvalidTransition means the operation is not valid from the
	// bounty's current status.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPermissionDenied means the caller is not authorized for the
	// requested operation.
	ErrPermissionDenied = errors.New("not authorized for this operation")

	// ErrValidation wraps malformed-input rejections (stake out of bounds,
	// reason too short, unknown claimed winner).
	ErrValidation = errors.New("validation failed")

	// ErrDisputeExists means the bounty already has a dispute; only one is
	// allowed per bounty.
	ErrDisputeExists = errors.New("bounty already disputed")

	// ErrDisputeWindowClosed means the dispute window after result
	// submission has elapsed.
	ErrDisputeWindowClosed = errors.New("dispute window has closed")

	// ErrDisputeWindowOpen means completion was attempted before the
	// dispute window elapsed.
	ErrDisputeWindowOpen = errors.New("dispute window still open")

	// ErrRateLimited means the creator exceeded the bounty-creation rate.
	ErrRateLimited = errors.New("bounty creation rate limit exceeded")

	// ErrUserBlocked means the access checker rejected the acceptor.
	ErrUserBlocked = errors.New("user is blocked from accepting bounties")

	// ErrTooManyActive means the acceptor already has the maximum number of
	// concurrent accepted bounties.
	ErrTooManyActive = errors.New("too many active accepted bounties")
)
