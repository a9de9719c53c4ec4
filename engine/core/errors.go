package core

import (
	"errors"
)

var (
	ErrMissingDeviceCapability = errors.New("device is missing a required capability")
	ErrNotInitialized          = errors.New("system used before initialization")
	ErrOutOfBounds             = errors.New("asset id out of bounds")
	ErrUnknown                 = errors.New("unknown")
)
