package vidsync

import "errors"

var (
	// ErrProtocol means a server response could not be decoded. Retryable at
	// the chunk level, the same way as a transport failure.
	ErrProtocol = errors.New("malformed server response")

	// ErrUnexpectedResponse means the server answered with an HTTP code the
	// protocol does not define for the request. Retryable at the chunk level.
	ErrUnexpectedResponse = errors.New("unexpected HTTP code")

	// ErrMissingHandle means the first chunk response did not assign a video
	// id. The session cannot continue, there is no recovery path.
	ErrMissingHandle = errors.New("server did not assign a video id")

	// ErrRetriesExhausted means all attempts for a single chunk have failed.
	// Fatal to the whole upload session.
	ErrRetriesExhausted = errors.New("chunk retries exhausted")
)
