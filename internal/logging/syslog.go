package logging

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
)

// Syslog severity levels (RFC 5424)
const (
	severityCritical = 2
	severityError    = 3
	severityWarning  = 4
	severityInfo     = 6
	severityDebug    = 7
)

// Syslog facility (LOG_USER = 1)
const facilityUser = 1

// SyslogOutput sends entries to a syslog server in RFC 3164 framing over
// a raw TCP or UDP connection
type SyslogOutput struct {
	mu       sync.Mutex
	conn     net.Conn
	protocol string
	addr     string
	tag      string
}

// NewSyslogOutput dials the server
func NewSyslogOutput(protocol, addr, tag string) (*SyslogOutput, error) {
	if protocol != "udp" && protocol != "tcp" {
		return nil, fmt.Errorf("%w: syslog over %q", ErrInvalidOutputType, protocol)
	}
	conn, err := net.Dial(protocol, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}
	return &SyslogOutput{conn: conn, protocol: protocol, addr: addr, tag: tag}, nil
}

func severityOf(level string) int {
	switch level {
	case "trace", "debug":
		return severityDebug
	case "warning", "warn":
		return severityWarning
	case "error":
		return severityError
	case "fatal", "panic":
		return severityCritical
	default:
		return severityInfo
	}
}

// Write sends one entry, redialling once if the connection dropped
func (s *SyslogOutput) Write(entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	message := []byte(fmt.Sprintf("<%d>%s %s[%d]: %s\n",
		facilityUser*8+severityOf(entry.Level),
		entry.Timestamp.Format("Jan _2 15:04:05"),
		s.tag,
		os.Getpid(),
		data,
	))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrOutputClosed
	}
	if _, err = s.conn.Write(message); err == nil {
		return nil
	}

	s.conn.Close()
	conn, dialErr := net.Dial(s.protocol, s.addr)
	if dialErr != nil {
		s.conn = nil
		return fmt.Errorf("failed to write to syslog and reconnect failed: %w", err)
	}
	s.conn = conn
	if _, err := s.conn.Write(message); err != nil {
		return fmt.Errorf("failed to write to syslog after reconnect: %w", err)
	}
	return nil
}

// Close closes the connection
func (s *SyslogOutput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
