// Package telemetry emits one JSON object per log line. Reserved keys
// ts, level and msg always win over caller-supplied fields.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stdout
)

// SetOutput redirects log lines and returns the previous writer.
// Primarily a test hook.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := out
	out = w
	return prev
}

// Info records routine events.
func Info(msg string, fields map[string]any) { emit("info", msg, fields) }

// Warn records degraded but survivable conditions.
func Warn(msg string, fields map[string]any) { emit("warn", msg, fields) }

// Error records failures that need operator attention.
func Error(msg string, fields map[string]any) { emit("error", msg, fields) }

func emit(level, msg string, fields map[string]any) {
	line := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		line[k] = v
	}
	line["ts"] = time.Now().UTC().Format(time.RFC3339)
	line["level"] = level
	line["msg"] = msg

	data, err := json.Marshal(line)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"ts":%q,"level":"error","msg":"log marshal failed","error":%q}`,
			time.Now().UTC().Format(time.RFC3339), err.Error()))
	}

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(out, string(data))
}
