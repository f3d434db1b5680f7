package libvisca

import "errors"

var (
	// ErrMalformedFrame is returned when a datagram is shorter than its header or declared length
	ErrMalformedFrame = errors.New("malformed VISCA-over-IP frame")

	// ErrSequenceAbnormality means the camera no longer agrees with our sequence number.
	// ResetSequence must be called before sending further commands.
	ErrSequenceAbnormality = errors.New("sequence abnormality reported by camera")

	// ErrRetriesExhausted is returned when a retry limit is configured and reached
	ErrRetriesExhausted = errors.New("camera did not acknowledge the command")

	ErrUnknownCommand   = errors.New("unknown command")
	ErrUnknownModel     = errors.New("unknown camera model")
	ErrInvalidDirection = errors.New("invalid zoom direction")
	ErrNotConnected     = errors.New("camera is not connected")
	ErrListenerStopped  = errors.New("reply listener stopped")
	ErrAlreadyRouted    = errors.New("camera already receives replies on this listener")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)
