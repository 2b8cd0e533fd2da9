package models

import "errors"

var (
	// ErrCaptureUnavailable is returned when the host capture surface denied or failed access
	ErrCaptureUnavailable = errors.New("capture unavailable")

	// ErrNotLinked is returned when a sync has no resolvable remote id
	ErrNotLinked = errors.New("platform is not linked to an auth method")

	// ErrRateLimited is returned when a call arrives inside an active debounce window
	ErrRateLimited = errors.New("rate limited")

	// ErrUnknownPlatform is returned for identifiers outside the platform enumeration
	ErrUnknownPlatform = errors.New("unknown platform")

	// ErrNoActiveTab is returned when no tab URL can be resolved
	ErrNoActiveTab = errors.New("no active tab")

	// ErrUnknownAuthMethod is returned when linking to an id absent from the remote list
	ErrUnknownAuthMethod = errors.New("auth method not found")

	// ErrNoSession is returned when the backend has no authenticated session
	ErrNoSession = errors.New("no backend session")

	// ErrProfileUnavailable is returned when the active profile cannot be
	// resolved and no earlier resolution is known
	ErrProfileUnavailable = errors.New("active profile unavailable")
)
