package approval

import "errors"

var (
	// ErrStaleState means the request changed since the caller read it; reload and retry
	ErrStaleState = errors.New("approval request was modified concurrently")

	// ErrUnauthorizedAction means the actor holds no authority at the current level
	ErrUnauthorizedAction = errors.New("actor is not authorized at the current approval level")

	// ErrInvalidTransition means the action is not valid from the current state
	ErrInvalidTransition = errors.New("invalid approval transition")

	ErrCommentRequired    = errors.New("comment is required")
	ErrNotFound           = errors.New("approval request not found")
	ErrWorkflowNotFound   = errors.New("approval workflow not found")
	ErrInvalidWorkflow    = errors.New("invalid approval workflow")
	ErrInvalidSubject     = errors.New("invalid approval subject")
	ErrInvalidDelegation  = errors.New("invalid delegation")
	ErrProjectionMismatch = errors.New("approval request projection does not match its action log")
)
