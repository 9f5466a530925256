// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/phoenix-rtos/lfsd/cfg"
	"github.com/phoenix-rtos/lfsd/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		in   cfg.LogSeverity
		want logger.Severity
	}{
		{cfg.TraceLogSeverity, logger.SeverityTrace},
		{cfg.DebugLogSeverity, logger.SeverityDebug},
		{cfg.InfoLogSeverity, logger.SeverityInfo},
		{cfg.WarningLogSeverity, logger.SeverityWarning},
		{cfg.ErrorLogSeverity, logger.SeverityError},
		{cfg.OffLogSeverity, logger.SeverityOff},
		{cfg.LogSeverity("bogus"), logger.SeverityInfo},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, severityFor(tc.in))
	}
}

func TestLockMountRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	devicePath := filepath.Join(dir, "disk.img")

	f1, err := lockMount(devicePath)
	require.NoError(t, err)
	defer f1.Close()

	_, err = lockMount(devicePath)
	assert.Error(t, err)
}

func TestLogOutputEmptyPathUsesStderr(t *testing.T) {
	assert.Equal(t, os.Stderr, logOutput(""))
}

func TestLogOutputNonEmptyPathUsesLumberjack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lfsd.log")

	out := logOutput(path)
	lj, ok := out.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, lj.Filename)
}

func TestRecoverToCrashFileWritesReportAndRepanics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crash.log")

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			assert.Equal(t, "boom", r)
		}()
		func() {
			defer recoverToCrashFile(path)
			panic("boom")
		}()
	}()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "panic: boom")
}
