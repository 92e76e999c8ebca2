package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrRateLimited       = errors.New("channel event rate limit exceeded")
	ErrNotBoundToSender  = errors.New("participant is bound to a different connection")
)
