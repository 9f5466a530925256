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

package cfg

// IsReadOnly reports whether the mount rejects mutating operations.
func IsReadOnly(c *Config) bool {
	return c.Device.ReadOnly
}

// EffectiveMetadataMax returns the configured metadata block cap, resolving
// the "0 means block-size" convention for callers that read the config
// directly instead of going through Rationalize.
func EffectiveMetadataMax(c *Config) uint32 {
	if c.Device.MetadataMax == 0 {
		return c.Device.BlockSize
	}
	return c.Device.MetadataMax
}
