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

package cfg

import "fmt"

func isValidDeviceConfig(d *DeviceConfig) error {
	if d.BlockSize == 0 || d.ReadSize == 0 || d.ProgSize == 0 || d.CacheSize == 0 {
		return fmt.Errorf("block-size, read-size, prog-size, and cache-size must all be nonzero")
	}
	if d.BlockSize%d.CacheSize != 0 {
		return fmt.Errorf("block-size must be a multiple of cache-size")
	}
	if d.CacheSize%d.ReadSize != 0 {
		return fmt.Errorf("cache-size must be a multiple of read-size")
	}
	if d.CacheSize%d.ProgSize != 0 {
		return fmt.Errorf("cache-size must be a multiple of prog-size")
	}
	if d.BlockCycles == 0 {
		return fmt.Errorf("block-cycles of 0 is disallowed: wear-leveling period must be positive")
	}
	if d.MetadataMax != 0 && d.MetadataMax > d.BlockSize {
		return fmt.Errorf("metadata-max must not exceed block-size")
	}
	return nil
}

func isValidLoggingConfig(l *LoggingConfig) error {
	if l.Format != "" && l.Format != "text" && l.Format != "json" {
		return fmt.Errorf("log-format must be \"text\" or \"json\", got %q", l.Format)
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}
	if err := isValidDeviceConfig(&config.Device); err != nil {
		return fmt.Errorf("error parsing device config: %w", err)
	}
	if config.Cache.MaxCachedObjects <= 0 {
		return fmt.Errorf("max-cached-objects must be positive")
	}
	if config.Metrics.Port < 0 || config.Metrics.Port > 65535 {
		return fmt.Errorf("metrics-port must be in [0, 65535]")
	}
	return nil
}
