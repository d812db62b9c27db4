package port

import "errors"

// ErrStaleVersion is returned by JobStore.Update when the record changed
// since it was read.
var ErrStaleVersion = errors.New("stale job version")
