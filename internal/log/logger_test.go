package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected logrus.Level
	}{
		{"", logrus.InfoLevel},
		{"debug", logrus.DebugLevel},
		{"DEBUG", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
	assert.False(t, ValidLevel("loud"))
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, logrus.DebugLevel, Config{Format: "json"})
	require.NoError(t, err)
	assert.True(t, l.IsDebugEnabled())

	l.WithField("ethertype", "ARP").WithError(errors.New("boom")).Warnf("dropped %d", 1)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dropped 1", entry["msg"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "ARP", entry["ethertype"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, logrus.WarnLevel, Config{})
	require.NoError(t, err)
	assert.False(t, l.IsDebugEnabled())
	l.Debugf("hidden")
	l.Infof("hidden")
	assert.Zero(t, buf.Len())
	l.Errorf("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestPatternFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, logrus.InfoLevel, Config{Format: "pattern", Pattern: "[%level] %msg {%field}\n"})
	require.NoError(t, err)
	l.WithFields(map[string]interface{}{"b": 2, "a": "x"}).Infof("hello")
	assert.Equal(t, "[info] hello {a=x,b=2}\n", buf.String())
}

func TestNewErrors(t *testing.T) {
	_, _, err := New(Config{Level: "invalid"})
	assert.ErrorContains(t, err, "invalid log level")

	_, _, err = New(Config{Format: "xml"})
	assert.ErrorContains(t, err, "unsupported log format")

	_, _, err = New(Config{File: FileConfig{Enabled: true}})
	assert.ErrorContains(t, err, "path")
}

func TestFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "vhost.log")
	l, closer, err := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: logPath, MaxSizeMB: 1}})
	require.NoError(t, err)
	l.Infof("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.False(t, l.IsDebugEnabled())
	l.WithField("k", "v").Errorf("nothing")
}
