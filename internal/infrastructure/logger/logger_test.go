package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		t.Run(format, func(t *testing.T) {
			l, err := New(&Config{Level: "debug", Format: format, Output: "stdout"})
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
		})
	}
}

func TestNew_TeesExtraCores(t *testing.T) {
	extra, recorded := observer.New(zapcore.InfoLevel)

	l, err := New(&Config{Level: "info", Format: "json", Output: "stderr"}, extra)
	require.NoError(t, err)

	l.Info("hello", zap.String("k", "v"))
	require.Len(t, recorded.All(), 1)
	assert.Equal(t, "v", recorded.All()[0].ContextMap()["k"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"unknown", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestCreateWriterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	l.Info("written to file")
	require.NoError(t, Sync(l))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
}

func TestNew_UnwritableOutput(t *testing.T) {
	_, err := New(&Config{Level: "info", Format: "json", Output: filepath.Join(t.TempDir(), "missing", "app.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open log output")
}

func TestAudit(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)

	Audit(zap.New(core)).Warn("cross tenant access denied")

	require.Len(t, recorded.All(), 1)
	assert.Equal(t, "audit", recorded.All()[0].LoggerName)
}
