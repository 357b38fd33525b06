package tui

import "errors"

var (
	// ErrAborted signals the user aborted input (e.g., Ctrl+C).
	ErrAborted = errors.New("tui: aborted")
	// ErrCancelled is returned when the customer declines to retry a failed
	// submission.
	ErrCancelled = errors.New("tui: submission cancelled")
)
