package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// LogEmitter implements Emitter by writing structured log lines to a writer.
//
// Supports two output modes:
//   - Text mode (default): Human-readable format with key=value pairs
//   - JSON mode: Machine-readable JSON format, one event per line
//
// Example text output:
//
//	[node_start] level=info runID=gen-001 step=1 nodeID=validate
//
// Example JSON output:
//
//	{"time":"2025-01-01T20:00:00Z","level":"info","runID":"gen-001","step":1,"nodeID":"validate","msg":"node_start","meta":null}
//
// Writes are serialized so concurrent workflows never interleave lines.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
	minLevel int
	now      func() time.Time
}

// NewLogEmitter creates a new LogEmitter.
//
// Parameters:
//   - writer: Where to write the log output (nil means os.Stdout)
//   - jsonMode: If true, emit JSON lines; if false, emit text
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
		now:      time.Now,
	}
}

// WithMinLevel drops events below the given level. Unknown levels are ignored.
func (l *LogEmitter) WithMinLevel(level string) *LogEmitter {
	if rank, ok := levelRank[level]; ok {
		l.minLevel = rank
	}
	return l
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	level := event.Level()
	if levelRank[level] < l.minLevel {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event, level)
	} else {
		l.emitText(event, level)
	}
}

func (l *LogEmitter) emitJSON(event Event, level string) {
	data, err := json.Marshal(struct {
		Time   string                 `json:"time"`
		Level  string                 `json:"level"`
		RunID  string                 `json:"runID"`
		Step   int                    `json:"step"`
		NodeID string                 `json:"nodeID"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta"`
	}{
		Time:   l.now().UTC().Format(time.RFC3339Nano),
		Level:  level,
		RunID:  event.RunID,
		Step:   event.Step,
		NodeID: event.NodeID,
		Msg:    event.Msg,
		Meta:   event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event, level string) {
	fmt.Fprintf(l.writer, "[%s] level=%s runID=%s step=%d nodeID=%s",
		event.Msg, level, event.RunID, event.Step, event.NodeID)

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
