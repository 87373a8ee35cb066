package emit

// MultiEmitter fans each event out to several emitters in order.
// Nil members are skipped.
//
// Example usage:
//
//	emitter := emit.NewMultiEmitter(
//	    emit.NewLogEmitter(os.Stderr, true),
//	    emit.NewOTelEmitter(otel.Tracer("storyflow")),
//	)
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates a MultiEmitter over the given emitters.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	kept := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return &MultiEmitter{emitters: kept}
}

// Emit forwards the event to every member emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
