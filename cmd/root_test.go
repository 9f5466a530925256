// Copyright 2024 Google Inc. All Rights Reserved.
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundFlagsReachRunCmd(t *testing.T) {
	var actual *cfg.Config
	cmd, err := NewRootCmd(func(c *cfg.Config, _, _ string) error {
		actual = c
		return nil
	})
	require.NoError(t, err)
	cmd.SetArgs([]string{"--block-size=8192", "/dev/loop0", "/mnt/x"})

	if assert.NoError(t, cmd.Execute()) {
		assert.Equal(t, uint32(8192), actual.Device.BlockSize)
	}
}

func TestCobraArgsNumInRange(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
	}{
		{name: "Too many args", args: []string{"abc", "pqr", "xyz"}, expectError: true},
		{name: "Too few args", args: []string{}, expectError: true},
		{name: "One arg is okay", args: []string{"pqr"}, expectError: false},
		{name: "Two args is okay", args: []string{"abc", "pqr"}, expectError: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := NewRootCmd(func(*cfg.Config, string, string) error { return nil })
			require.NoError(t, err)
			cmd.SetArgs(tc.args)

			err = cmd.Execute()

			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestArgsParsing(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	hd, err := os.UserHomeDir()
	require.NoError(t, err)
	tests := []struct {
		name               string
		args               []string
		expectedDevice     string
		expectedMountpoint string
	}{
		{
			name:               "Both device and mountpoint specified",
			args:               []string{"abc", "pqr"},
			expectedDevice:     "abc",
			expectedMountpoint: filepath.Join(wd, "pqr"),
		},
		{
			name:               "Only mountpoint specified",
			args:               []string{"pqr"},
			expectedDevice:     "",
			expectedMountpoint: filepath.Join(wd, "pqr"),
		},
		{
			name:               "Absolute path for mountpoint",
			args:               []string{"/pqr"},
			expectedDevice:     "",
			expectedMountpoint: "/pqr",
		},
		{
			name:               "Relative path from user's home as mountpoint",
			args:               []string{"~/pqr"},
			expectedDevice:     "",
			expectedMountpoint: filepath.Join(hd, "pqr"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var device, mountPoint string
			cmd, err := NewRootCmd(func(_ *cfg.Config, d string, m string) error {
				device = d
				mountPoint = m
				return nil
			})
			require.NoError(t, err)
			cmd.SetArgs(tc.args)

			err = cmd.Execute()

			if assert.NoError(t, err) {
				assert.Equal(t, tc.expectedDevice, device)
				assert.Equal(t, tc.expectedMountpoint, mountPoint)
			}
		})
	}
}
