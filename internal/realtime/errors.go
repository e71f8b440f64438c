package realtime

import "errors"

var (
	// ErrInvalidTopic indicates an empty or malformed topic name.
	ErrInvalidTopic = errors.New("realtime: invalid topic")
	// ErrHubClosed indicates the hub no longer accepts subscriptions.
	ErrHubClosed = errors.New("realtime: hub closed")
	// ErrInvalidPath indicates a field patch path that cannot be applied.
	ErrInvalidPath = errors.New("realtime: invalid patch path")
)
