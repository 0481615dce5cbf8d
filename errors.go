package armlink

import "github.com/pkg/errors"

// Category errors for the failure paths the system distinguishes.
// Wrap with errors.Wrapf and match with errors.Is.
var (
	// ErrValidation marks a request rejected before anything was sent:
	// bad vector length, unknown frame, malformed orientation.
	ErrValidation = errors.New("invalid request")

	// ErrConnection marks a failure to establish the driver link.
	// Fatal to the motion process.
	ErrConnection = errors.New("driver connection failed")

	// ErrMotion marks a single failed move call. Reported via a status
	// packet; the motion loop keeps running.
	ErrMotion = errors.New("motion command failed")

	// ErrProtocol marks a malformed or unrecognized packet. The receiver
	// answers with an error status (or drops it) and keeps going.
	ErrProtocol = errors.New("malformed packet")

	// ErrChannel marks a broken or closed channel. Fatal; triggers an
	// orderly shutdown.
	ErrChannel = errors.New("channel broken")
)
