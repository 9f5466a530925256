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

// GetDefaultLoggingConfig returns the default configuration that is to be
// used during application startup, before the provided configuration has
// been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   "text",
	}
}

// GetDefaultDeviceConfig returns the geometry defaults used when a mount
// doesn't specify its own.
func GetDefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		BlockSize:       DefaultBlockSize,
		ReadSize:        DefaultReadSize,
		ProgSize:        DefaultProgSize,
		CacheSize:       DefaultCacheSize,
		LookaheadSize:   DefaultLookaheadSize,
		BlockCycles:     DefaultBlockCycles,
		NameMax:         DefaultNameMax,
		WriteForwardCRC: true,
	}
}

// GetDefaultFileSystemConfig returns the ownership/timestamp policy
// defaults.
func GetDefaultFileSystemConfig() FileSystemConfig {
	return FileSystemConfig{
		FileMode: 0644,
		DirMode:  0755,
		Uid:      -1,
		Gid:      -1,
		UseAtime: true,
		UseMtime: true,
		UseCtime: true,
	}
}

// GetDefaultCacheConfig returns the object-LRU capacity default.
func GetDefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxCachedObjects: DefaultMaxCachedObjects}
}

// GetDefaultMetricsConfig returns the metrics defaults: the scrape endpoint
// is off unless a mount opts in with a port.
func GetDefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Port: 0}
}
