package playback

import "errors"

// Failure classes for remote interaction. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrRemoteUnavailable: speaker unreachable or timed out. Retried on the next poll.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrMalformedRemoteData: a field from the speaker could not be parsed.
	ErrMalformedRemoteData = errors.New("malformed remote data")

	// ErrDispatchRejected: the speaker (or local policy) refused a command.
	ErrDispatchRejected = errors.New("dispatch rejected")
)
