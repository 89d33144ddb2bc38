package core

import "errors"

var (
	// ErrInsufficientData means fewer than two usable observations, or a statistic
	// that is undefined on the data given (zero variance)
	ErrInsufficientData = errors.New("insufficient data")

	// ErrAlignment means two series that must share an index do not
	ErrAlignment = errors.New("series are not aligned")

	// ErrInsufficientAssets means fewer than two assets survived filtering
	ErrInsufficientAssets = errors.New("insufficient assets")

	// ErrOptimization means the optimizer failed or returned weights that violate the constraints
	ErrOptimization = errors.New("optimization failed")

	ErrInvalidParameter = errors.New("invalid parameter")
)
