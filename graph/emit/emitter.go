package emit

// Emitter receives observability events from workflow execution.
//
// Emitters back the storyflow logging and tracing layer:
//   - LogEmitter: text or JSON lines on a writer
//   - OTelEmitter: OpenTelemetry spans
//   - BufferedEmitter: in-memory history for tests and audits
//   - MultiEmitter: fan-out to several backends
//
// Implementations must be safe for concurrent use, because independent
// workflows share one emitter, and must not panic. Emit should not block
// workflow execution for long.
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}
