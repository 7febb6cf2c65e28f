package errs

import (
	"errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrOutOfStock      = errors.New("book not available")
	ErrAlreadyBorrowed = errors.New("book already borrowed")
	ErrNotBorrowed     = errors.New("book not borrowed")
	ErrInvalidInput    = errors.New("invalid input")

	// ErrLoanStateMismatch is raised when the user's loan list and the borrow
	// record store disagree about an active loan. The divergence is a data
	// fault and must be surfaced, never repaired silently.
	ErrLoanStateMismatch = errors.New("loan state mismatch between loan list and borrow records")
)
