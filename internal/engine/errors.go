package engine

import (
	"errors"

	"github.com/meridian-mobility/safetyindex/internal/features"
	"github.com/meridian-mobility/safetyindex/internal/mcdm"
)

// Sentinel errors surfaced at the engine boundary. ErrNoData and
// ErrInsufficientHistory are aliases for the producing packages'
// sentinels so callers can match with errors.Is at either level.
var (
	ErrNoData              = features.ErrNoData
	ErrInsufficientHistory = mcdm.ErrInsufficientHistory

	ErrNotCalibrated = errors.New("no calibration snapshot available")
)
