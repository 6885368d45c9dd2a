package core

import (
	"errors"
	"math"
)

// Errors
var (
	ErrInvalidVolume    = errors.New("invalid volume")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrOrderExists      = errors.New("order exists")
	ErrNonexistentOrder = errors.New("nonexistent order")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrAmountOverflow   = errors.New("amount out of range")
)

// MaxAmount is the largest cash or asset amount a holdings total can carry
// at three fraction digits.
const MaxAmount = math.MaxInt64 / 1000
