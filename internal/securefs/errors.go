// Package securefs provides a sandboxed filesystem rooted at one directory.
package securefs

import (
	"github.com/digitlab/digitlab/internal/errors"
)

// Sentinel errors for the securefs package.
var (
	// ErrPathTraversal indicates a relative path that climbs above the base directory.
	ErrPathTraversal = errors.NewStd("security error: path attempts to traverse outside base directory")

	// ErrInvalidPath indicates an invalid path specification (e.g. absolute when relative is required)
	ErrInvalidPath = errors.NewStd("security error: invalid path specification")
)
