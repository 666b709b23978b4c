package log

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	err := Start("trace", true, "")
	if err != nil {
		panic(fmt.Sprintf("start failed: %s", err))
	}
}

func TestLogging(t *testing.T) { //nolint:paralleltest // Changes the global log level.
	// set levels (static random)
	SetLogLevel(WarningLevel)
	SetLogLevel(InfoLevel)
	SetLogLevel(ErrorLevel)
	SetLogLevel(DebugLevel)
	SetLogLevel(CriticalLevel)
	SetLogLevel(TraceLevel)

	// log
	Trace("Trace")
	Debug("Debug")
	Info("Info")
	Warning("Warning")
	Error("Error")
	Critical("Critical")

	// logf
	Tracef("Trace %s", "f")
	Debugf("Debug %s", "f")
	Infof("Info %s", "f")
	Warningf("Warning %s", "f")
	Errorf("Error %s", "f")
	Criticalf("Critical %s", "f")

	// play with levels
	warnings := TotalWarningLogLines()
	SetLogLevel(CriticalLevel)
	Warning("Warning")
	assert.Equal(t, warnings+1, TotalWarningLogLines(), "suppressed warnings must still be counted")
	SetLogLevel(TraceLevel)

	// log invalid level
	log(0xFF, "msg")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for _, level := range []Severity{TraceLevel, DebugLevel, InfoLevel, WarningLevel, ErrorLevel, CriticalLevel} {
		assert.Equal(t, level, ParseLevel(level.Name()))
	}
	assert.Equal(t, WarningLevel, ParseLevel("WARN"))
	assert.Equal(t, Severity(0), ParseLevel("verbose"))
}

func TestCleanOldLogs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldLog := filepath.Join(dir, time.Now().Add(-48*time.Hour).UTC().Format(fileTimeFormat)+".log")
	newLog := filepath.Join(dir, time.Now().UTC().Format(fileTimeFormat)+".log")
	other := filepath.Join(dir, "notes.txt")
	for _, f := range []string{oldLog, newLog, other} {
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o0600))
	}

	require.NoError(t, CleanOldLogs(dir, 24*time.Hour))

	assert.NoFileExists(t, oldLog)
	assert.FileExists(t, newLog)
	assert.FileExists(t, other)
}
