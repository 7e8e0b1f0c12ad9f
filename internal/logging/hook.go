package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputHook is a logrus hook that sends entries at or above a minimum
// level to an Output. Writes happen on the logging goroutine so entries
// keep their order.
type OutputHook struct {
	output Output
	levels []logrus.Level
}

// NewOutputHook creates a new output hook
func NewOutputHook(output Output, min logrus.Level) *OutputHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return &OutputHook{
		output: output,
		levels: levels,
	}
}

// Levels returns the log levels this hook should fire for
func (h *OutputHook) Levels() []logrus.Level {
	return h.levels
}

// Fire is called when a log event occurs
func (h *OutputHook) Fire(entry *logrus.Entry) error {
	// Convert logrus entry to our LogEntry format
	logEntry := &LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    make(map[string]interface{}, len(entry.Data)),
	}

	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		logEntry.Fields[k] = v
	}

	if err := h.output.Write(logEntry); err != nil {
		// Writing through logrus here would recurse into this hook
		fmt.Fprintf(os.Stderr, "failed to write to log output: %v\n", err)
	}
	return nil
}
