package reconnet

import "errors"

// These errors are returned (wrapped with context) at the
// call boundaries of the tiling, tile-processing and
// composition packages.
// Use errors.Is to match them.
var (
	// ErrInvalidWindowConfig indicates an overlap which is
	// not smaller than its window, a non-positive window,
	// or a window larger than the image being tiled.
	ErrInvalidWindowConfig = errors.New("invalid window config")

	// ErrShapeMismatch indicates tensors whose shapes do not
	// agree with each other or with a configured shape.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDeviceMismatch indicates tensors created by
	// different anyvec.Creators.
	ErrDeviceMismatch = errors.New("device mismatch")

	// ErrDuplicateInitRace indicates a second initialization
	// of a tile coordinate which was already initialized.
	ErrDuplicateInitRace = errors.New("duplicate tile initialization")

	// ErrNumericDegeneracy indicates non-finite values found
	// while inspecting a result.
	ErrNumericDegeneracy = errors.New("numeric degeneracy")

	// ErrUnsupportedVersion indicates a saved model with an
	// unknown container version.
	ErrUnsupportedVersion = errors.New("unsupported format version")
)
