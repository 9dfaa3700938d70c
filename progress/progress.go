package progress

// Tracker receives progress events from unpack and repack runs.
// The pipeline is sequential, so implementations need no locking.
type Tracker interface {
	OnEvent(any)
}

// NewTracker creates a Tracker from a typed callback. Events of any other
// type are dropped, so one tracker can be handed to several stages.
func NewTracker[E any](fn func(E)) Tracker {
	return funcTracker(func(v any) {
		if e, ok := v.(E); ok {
			fn(e)
		}
	})
}

type funcTracker func(any)

func (f funcTracker) OnEvent(e any) { f(e) }

// Nop is a no-op tracker for callers that don't need progress.
var Nop Tracker = funcTracker(func(any) {})

// OrNop returns t, or Nop when t is nil.
func OrNop(t Tracker) Tracker {
	if t == nil {
		return Nop
	}
	return t
}
