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

// Rationalize updates config fields based on the values of other fields,
// after flags/YAML/defaults have been merged but before ValidateConfig
// runs.
func Rationalize(c *Config) error {
	if c.Debug.LogMutex {
		c.Logging.Severity = TraceLogSeverity
	}

	if c.Device.MetadataMax == 0 {
		c.Device.MetadataMax = c.Device.BlockSize
	}

	// Read-only mounts never need FCRC bookkeeping for their own commits,
	// since they never commit.
	if c.Device.ReadOnly {
		c.Device.WriteForwardCRC = false
	}

	return nil
}
