package logger

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesDailyFile(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger("riskd", Options{LogDir: dir})
	require.NoError(t, err)

	l.Info("guard started with %d instruments", 20)
	l.LogError("sample", errors.New("timeout"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "DIA-CORE RISK SESSION STARTED")
	assert.Contains(t, content, "[INFO] [riskd] guard started with 20 instruments")
	assert.Contains(t, content, "[ERROR] [riskd] sample: timeout")
	assert.Contains(t, content, "DIA-CORE RISK SESSION ENDED")
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("test", &buf)
	l.minLevel = LogLevelWarning

	l.Debug("dropped")
	l.Info("dropped too")
	l.Guard("domain levels log at info severity")
	l.Warning("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.NotContains(t, out, "domain levels")
	assert.Contains(t, out, "[WARN] [test] kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("debug"))
	assert.Equal(t, LogLevelWarning, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LogLevelInfo, ParseLevel("verbose"))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("nothing")
		l.LogGuardTransition("NORMAL", "REDUCED", "cpu", 10)
		_ = l.Close()
	})
}
