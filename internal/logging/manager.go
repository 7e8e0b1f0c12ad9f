package logging

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Log formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options selects how a logger formats and where it sends entries
type Options struct {
	Level         string
	Format        string
	File          string // JSON lines appended to this path
	Syslog        string // udp://host:port or tcp://host:port
	IncludeCaller bool
}

// Manager applies Options to a logger and owns the extra outputs
type Manager struct {
	logger  *logrus.Logger
	outputs []Output
	mu      sync.Mutex
}

// NewManager creates a new logging manager
func NewManager(logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{logger: logger}
}

// Logger returns the managed logger
func (m *Manager) Logger() *logrus.Logger {
	return m.logger
}

// Configure sets format, level and outputs. Outputs from an earlier call
// are closed.
func (m *Manager) Configure(opts Options) error {
	formatter, err := newFormatter(opts.Format)
	if err != nil {
		return err
	}

	level := logrus.InfoLevel
	if opts.Level != "" {
		level, err = logrus.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	var outputs []Output
	if opts.File != "" {
		out, err := NewFileOutput(opts.File)
		if err != nil {
			return err
		}
		outputs = append(outputs, out)
	}
	if opts.Syslog != "" {
		out, err := newSyslogFromURL(opts.Syslog)
		if err != nil {
			closeAll(outputs)
			return err
		}
		outputs = append(outputs, out)
	}

	m.mu.Lock()
	old := m.outputs
	m.outputs = outputs

	m.logger.SetFormatter(formatter)
	m.logger.SetLevel(level)
	m.logger.SetReportCaller(opts.IncludeCaller)

	hooks := make(logrus.LevelHooks)
	for _, out := range outputs {
		hooks.Add(NewOutputHook(out, level))
	}
	m.logger.ReplaceHooks(hooks)
	m.mu.Unlock()

	closeAll(old)

	m.logger.WithFields(logrus.Fields{
		"format":  opts.Format,
		"level":   level.String(),
		"outputs": len(outputs),
	}).Debug("Logging configuration updated")
	return nil
}

// SetOutput redirects the primary stream
func (m *Manager) SetOutput(w io.Writer) {
	m.logger.SetOutput(w)
}

// Close closes every extra output
func (m *Manager) Close() {
	m.mu.Lock()
	outputs := m.outputs
	m.outputs = nil
	m.logger.ReplaceHooks(make(logrus.LevelHooks))
	m.mu.Unlock()

	closeAll(outputs)
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch format {
	case FormatJSON:
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}, nil
	case FormatText, "":
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

func newSyslogFromURL(raw string) (*SyslogOutput, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutputType, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: syslog address %q has no host", ErrInvalidOutputType, raw)
	}
	return NewSyslogOutput(u.Scheme, u.Host, "dasi")
}

func closeAll(outputs []Output) {
	for _, out := range outputs {
		if err := out.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log output: %v\n", err)
		}
	}
}
