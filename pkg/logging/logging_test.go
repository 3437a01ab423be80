package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLogging(t *testing.T) {
	// Just making sure none of the plain helpers panic
	Debugf("Debug message")
	Infof("Info message")
	Warnf("Warning message")
	Errorf("Error message")

	assert.True(t, true)
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	originalOutput := logger.Out
	logger.SetOutput(&buf)
	defer logger.SetOutput(originalOutput)

	SetLevel(InfoLevel)

	// Debug should not be logged
	Debugf("Debug message")
	assert.Empty(t, buf.String())

	// Info should be logged
	buf.Reset()
	Infof("Info message")
	assert.Contains(t, buf.String(), "Info message")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	originalOutput := logger.Out
	logger.SetOutput(&buf)
	defer logger.SetOutput(originalOutput)

	SetLevel(DebugLevel)

	fields := logrus.Fields{
		"conn":  "127.0.0.1:9000",
		"state": "ESTABLISHED",
	}
	InfoWithFields(fields, "segment sent")

	out := buf.String()
	assert.Contains(t, out, "segment sent")
	assert.Contains(t, out, "ESTABLISHED")
}

func TestEnableFileLogging(t *testing.T) {
	dir := t.TempDir()

	err := EnableFileLogging(dir, "microtcp.log", 1, 1, 1)
	assert.NoError(t, err)
	defer SetOutput(os.Stdout)

	SetLevel(InfoLevel)
	Infof("file log line")

	data, err := os.ReadFile(filepath.Join(dir, "microtcp.log"))
	assert.NoError(t, err)
	assert.Contains(t, string(data), "file log line")
}
