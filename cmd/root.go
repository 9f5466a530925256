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
	"fmt"
	"os"
	"path/filepath"

	"github.com/phoenix-rtos/lfsd/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd builds the lfsd root command. runCmd is invoked once flags,
// config file, and positional args have all been parsed and validated,
// letting tests substitute a fake in place of actually opening a device and
// serving (a run-function injection pattern that keeps cmd testable).
func NewRootCmd(runCmd func(*cfg.Config, string, string) error) (*cobra.Command, error) {
	var (
		cfgFile       string
		mountConfig   cfg.Config
		bindErr       error
		configFileErr error
		unmarshalErr  error
	)

	cmd := &cobra.Command{
		Use:   "lfsd [flags] <device> <mountpoint>",
		Short: "Run the littlefs/Phoenix-ID core against a block device",
		Long: `lfsd opens a block device (or a regular file standing in for one)
formatted with littlefs plus the Phoenix-ID overlay, and serves the
POSIX-style object API over it until signaled to unmount.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bindErr != nil {
				return bindErr
			}
			if configFileErr != nil {
				return configFileErr
			}
			if unmarshalErr != nil {
				return unmarshalErr
			}
			if err := cfg.Rationalize(&mountConfig); err != nil {
				return fmt.Errorf("rationalizing config: %w", err)
			}
			if err := cfg.ValidateConfig(&mountConfig); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			devicePath, mountPoint, err := populateArgs(args)
			if err != nil {
				return err
			}
			return runCmd(&mountConfig, devicePath, mountPoint)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML mount-config file")
	bindErr = cfg.BindFlags(cmd.PersistentFlags())

	cobra.OnInitialize(func() {
		if cfgFile == "" {
			unmarshalErr = viper.Unmarshal(&mountConfig, viper.DecodeHook(cfg.DecodeHook()))
			return
		}
		resolved, err := filepath.Abs(cfgFile)
		if err != nil {
			configFileErr = fmt.Errorf("error while resolving config file path: %w", err)
			return
		}
		viper.SetConfigFile(resolved)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("error while reading config file: %w", err)
			return
		}
		unmarshalErr = viper.Unmarshal(&mountConfig, viper.DecodeHook(cfg.DecodeHook()))
	})

	return cmd, bindErr
}

// populateArgs splits positional args into a device path and a mountpoint.
// A single argument is treated as the mountpoint with an empty device path
// (reserved for a future "read device path from config" mode); two treats
// the first as the device.
func populateArgs(args []string) (devicePath string, mountPoint string, err error) {
	switch len(args) {
	case 1:
		devicePath = ""
		mountPoint = args[0]
	case 2:
		devicePath = args[0]
		mountPoint = args[1]
	default:
		err = fmt.Errorf("lfsd takes one or two arguments, got %d", len(args))
		return
	}

	mountPoint, err = resolvePath(mountPoint)
	if err != nil {
		err = fmt.Errorf("canonicalizing mount point: %w", err)
	}
	return
}

// resolvePath expands a leading "~" and makes the result absolute, the same
// normalization applied to mount-point and config-file flags.
func resolvePath(p string) (string, error) {
	if p == "~" || (len(p) >= 2 && p[:2] == "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if p == "~" {
			p = home
		} else {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

// Execute runs the real lfsd command against os.Args, exiting the process
// on error.
func Execute() {
	cmd, err := NewRootCmd(Run)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
