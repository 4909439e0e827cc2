package store

import (
	"github.com/xtxerr/rigwatch/internal/errors"
)

var (
	ErrNotFound        = errors.ErrNotFound
	ErrMachineNotFound = errors.ErrMachineNotFound
	ErrClosed          = errors.ErrStoreClosed

	errInvalidTier = errors.ErrInvalidResolution
)
