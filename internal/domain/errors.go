package domain

import "errors"

var (
	// ErrTransport marks failures to reach the server or non-2xx answers after retries.
	ErrTransport = errors.New("transport failure")
	// ErrProtocol marks a 2xx body that matches none of the known reply shapes.
	ErrProtocol = errors.New("malformed server reply")
	// ErrSessionNotFound is returned by stores and the API for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidRole is returned for roles outside the known set.
	ErrInvalidRole = errors.New("invalid role")
	// ErrEmptyText rejects blank utterances.
	ErrEmptyText = errors.New("empty text")
	// ErrTextTooLong rejects utterances over the length limit.
	ErrTextTooLong = errors.New("text too long")
)
