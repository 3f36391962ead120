package provision

import "errors"

var (
	// ErrInvalidInput rejects an attempt with an empty SSID before any
	// state is touched.
	ErrInvalidInput = errors.New("provision: ssid must not be empty")

	// ErrBusy rejects a second attempt while one is in flight. Attempts
	// are never interleaved or queued.
	ErrBusy = errors.New("provision: connection attempt already in flight")

	// ErrVerificationFailed means the connect command succeeded but the
	// association check disagreed.
	ErrVerificationFailed = errors.New("provision: connection verification failed")
)
