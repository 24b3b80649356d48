package accessory

import "errors"

var (
	// ErrUnknownDevice is returned when a command references an id that is
	// not in the registry.
	ErrUnknownDevice = errors.New("accessory: unknown device")

	// ErrDuplicateDevice is returned by Registry.Insert when a record with
	// the same unique id already exists.
	ErrDuplicateDevice = errors.New("accessory: duplicate device")

	// ErrIndexOutOfRange is returned by Registry.Remove for an invalid
	// position.
	ErrIndexOutOfRange = errors.New("accessory: index out of range")

	// ErrChannelNotReady is returned when a command needs a channel handle
	// that has not been resolved yet.
	ErrChannelNotReady = errors.New("accessory: channel not ready")

	// ErrStopped is returned for commands issued after the manager has
	// been stopped.
	ErrStopped = errors.New("accessory: manager stopped")
)
