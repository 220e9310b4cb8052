package spawncache

import "errors"

var (
	// ErrClosed is returned by maintenance calls on a closed Cache.
	ErrClosed = errors.New("spawncache: cache closed")

	// ErrL2Disabled is returned by calls that need the persistent tier when
	// the cache runs without one.
	ErrL2Disabled = errors.New("spawncache: l2 tier disabled")
)
