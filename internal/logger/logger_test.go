package logger_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/phoenix-rtos/lfsd/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHandlerFormatsSeverityAndMessage(t *testing.T) {
	var buf bytes.Buffer
	lg := logger.New(logger.Options{Severity: logger.SeverityInfo, Out: &buf})

	lg.Infof("mounted %s", "/dev/mtd0")

	out := buf.String()
	assert.Contains(t, out, `severity=INFO`)
	assert.Contains(t, out, `message="mounted /dev/mtd0"`)
}

func TestJSONHandlerEmitsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	lg := logger.New(logger.Options{Severity: logger.SeverityInfo, JSON: true, Out: &buf})

	lg.Errorf("commit failed: %d", 7)

	var rec struct {
		Severity string `json:"severity"`
		Message  string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ERROR", rec.Severity)
	assert.Equal(t, "commit failed: 7", rec.Message)
}

func TestSeverityBelowThresholdIsSuppressed(t *testing.T) {
	var buf bytes.Buffer
	lg := logger.New(logger.Options{Severity: logger.SeverityWarning, Out: &buf})

	lg.Infof("should not appear")
	lg.Debugf("should not appear either")

	assert.Empty(t, buf.String())
}

func TestSeverityOffSuppressesEverything(t *testing.T) {
	var buf bytes.Buffer
	lg := logger.New(logger.Options{Severity: logger.SeverityOff, Out: &buf})

	lg.Errorf("even errors")
	assert.Empty(t, buf.String())
}

func TestSetSeverityChangesThresholdLive(t *testing.T) {
	var buf bytes.Buffer
	lg := logger.New(logger.Options{Severity: logger.SeverityError, Out: &buf})

	lg.Warnf("suppressed")
	assert.Empty(t, buf.String())

	lg.SetSeverity(logger.SeverityWarning)
	lg.Warnf("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestPrefixIsPrependedToMessage(t *testing.T) {
	var buf bytes.Buffer
	lg := logger.New(logger.Options{Severity: logger.SeverityInfo, Prefix: "mount: ", Out: &buf})

	lg.Infof("ready")
	assert.True(t, strings.Contains(buf.String(), `message="mount: ready"`))
}

func TestSeverityStringNames(t *testing.T) {
	assert.Equal(t, "TRACE", logger.SeverityTrace.String())
	assert.Equal(t, "WARNING", logger.SeverityWarning.String())
	assert.Equal(t, "OFF", logger.SeverityOff.String())
}

func TestPackageLevelLoggingUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	logger.SetDefault(logger.New(logger.Options{Severity: logger.SeverityInfo, Out: &buf}))
	defer logger.SetDefault(logger.New(logger.Options{Severity: logger.SeverityInfo}))

	logger.Infof("package level works")
	assert.Contains(t, buf.String(), "package level works")
}
