package stream

import "stemwatch/internal/progress"

// Latch remembers that a terminal outcome was delivered.
// Once set it stays set for the life of the session.
type Latch struct {
	set bool
}

// Observe records kind and reports whether the frame should be delivered.
// Completed and Error set the latch; End is swallowed once it is set.
func (l *Latch) Observe(kind progress.Kind) bool {
	switch {
	case kind.Terminal():
		l.set = true
		return true
	case kind == progress.KindEnd && l.set:
		return false
	default:
		return true
	}
}

// Set reports whether a terminal outcome has been seen.
func (l *Latch) Set() bool {
	return l.set
}
