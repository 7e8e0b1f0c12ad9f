package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	logger := logrus.New()
	manager := NewManager(logger)

	assert.NotNil(t, manager)
	assert.Equal(t, logger, manager.Logger())
	assert.NotNil(t, NewManager(nil).Logger())
}

func TestConfigureFormat(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		manager := NewManager(logrus.New())
		manager.SetOutput(&buf)
		require.NoError(t, manager.Configure(Options{Level: "info", Format: FormatJSON}))

		manager.Logger().WithField("session", "abc").Info("archived")

		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, "archived", doc["message"])
		assert.Equal(t, "info", doc["level"])
		assert.Equal(t, "abc", doc["session"])
		assert.Contains(t, doc, "timestamp")
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		manager := NewManager(logrus.New())
		manager.SetOutput(&buf)
		require.NoError(t, manager.Configure(Options{Level: "debug", Format: FormatText}))

		manager.Logger().Debug("listing")
		assert.Contains(t, buf.String(), "msg=listing")
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		manager := NewManager(logrus.New())
		manager.SetOutput(&buf)
		require.NoError(t, manager.Configure(Options{Level: "warn"}))

		manager.Logger().Info("hidden")
		assert.Empty(t, buf.String())
		assert.Equal(t, logrus.WarnLevel, manager.Logger().GetLevel())
	})

	t.Run("invalid", func(t *testing.T) {
		manager := NewManager(logrus.New())
		assert.ErrorIs(t, manager.Configure(Options{Format: "xml"}), ErrInvalidFormat)
		assert.Error(t, manager.Configure(Options{Level: "loud"}))
		assert.ErrorIs(t, manager.Configure(Options{Syslog: "udp:///nohost"}), ErrInvalidOutputType)
		assert.ErrorIs(t, manager.Configure(Options{Syslog: "http://localhost:514"}), ErrInvalidOutputType)
	})
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dasi.log")

	manager := NewManager(logrus.New())
	manager.SetOutput(&bytes.Buffer{})
	require.NoError(t, manager.Configure(Options{Level: "info", File: path}))

	manager.Logger().WithField("key", "User=A").Info("first")
	manager.Logger().Debug("below level")
	manager.Logger().WithError(os.ErrNotExist).Warn("second")
	manager.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, entries, 2)

	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "User=A", entries[0].Fields["key"])
	assert.Equal(t, "warning", entries[1].Level)
	assert.Equal(t, os.ErrNotExist.Error(), entries[1].Fields["error"])

	// writes after close are refused
	out, err := NewFileOutput(path)
	require.NoError(t, err)
	require.NoError(t, out.Close())
	assert.ErrorIs(t, out.Write(&LogEntry{Message: "late"}), ErrOutputClosed)
}

func TestSyslogOutput(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	manager := NewManager(logrus.New())
	manager.SetOutput(&bytes.Buffer{})
	require.NoError(t, manager.Configure(Options{Level: "info", Syslog: "udp://" + conn.LocalAddr().String()}))
	defer manager.Close()

	manager.Logger().Error("engine failure")

	buf := make([]byte, 4096)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	msg := string(buf[:n])
	// facility user (1) * 8 + severity error (3)
	assert.True(t, strings.HasPrefix(msg, "<11>"), msg)
	assert.Contains(t, msg, "dasi[")
	assert.Contains(t, msg, "engine failure")
}

func TestSeverityOf(t *testing.T) {
	assert.Equal(t, severityDebug, severityOf("debug"))
	assert.Equal(t, severityWarning, severityOf("warning"))
	assert.Equal(t, severityCritical, severityOf("panic"))
	assert.Equal(t, severityInfo, severityOf("info"))
}
