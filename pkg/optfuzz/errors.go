package optfuzz

import "errors"

// errDiscarded is the structural dead-end sentinel: no existing value of the
// requested width, or an unreachable non-entry block survived CFG fix-up.
// A worker observing it exits silently with no output; siblings continue.
var errDiscarded = errors.New("optfuzz: leaf discarded")

// isDiscarded reports whether err is (or wraps) errDiscarded.
func isDiscarded(err error) bool {
	return errors.Is(err, errDiscarded)
}
