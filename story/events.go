package story

import (
	"context"

	"github.com/dshills/storyflow-go/graph/emit"
)

type generationIDKey struct{}

// WithGenerationID tags ctx so stage components can correlate their events
// with the workflow run.
func WithGenerationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, generationIDKey{}, id)
}

// GenerationIDFrom returns the generation ID carried by ctx, if any.
func GenerationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(generationIDKey{}).(string)
	return id
}

func emitEvent(ctx context.Context, emitter emit.Emitter, nodeID, msg string, meta map[string]interface{}) {
	if emitter == nil {
		return
	}
	emitter.Emit(emit.Event{
		RunID:  GenerationIDFrom(ctx),
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func emitWarn(ctx context.Context, emitter emit.Emitter, nodeID, msg string, meta map[string]interface{}) {
	if meta == nil {
		meta = make(map[string]interface{}, 1)
	}
	meta["level"] = emit.LevelWarn
	emitEvent(ctx, emitter, nodeID, msg, meta)
}
