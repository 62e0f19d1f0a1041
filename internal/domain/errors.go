package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock held by another process")

	// ErrValidation marks bad start-time input (address, market identifier,
	// threshold). It is the only monitor error returned synchronously.
	ErrValidation = errors.New("validation failed")
	// ErrConnection marks a websocket drop. Terminal for the listener that
	// saw it; restarting is up to the caller.
	ErrConnection = errors.New("websocket connection lost")
	// ErrFetch marks a failed poll-cycle fetch. The cycle is skipped.
	ErrFetch = errors.New("fetch failed")
	// ErrParse marks a malformed inbound message. The message is dropped.
	ErrParse = errors.New("malformed message")
)
