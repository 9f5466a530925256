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

const (
	// Device geometry defaults, chosen to match a small NOR/NAND flash
	// chip typical of the microkernel's target hardware.

	DefaultBlockSize     uint32 = 4096
	DefaultReadSize      uint32 = 256
	DefaultProgSize      uint32 = 256
	DefaultCacheSize     uint32 = 512
	DefaultLookaheadSize uint32 = 128
	DefaultBlockCycles   uint32 = 100
	DefaultNameMax       uint32 = 255
	DefaultMaxCachedObjects = 4096

	// InlineLimitHardCap is the inline-file ceiling regardless of geometry:
	// min(0x3fe, cache_size, metadata_max/8).
	InlineLimitHardCap uint32 = 0x3fe
)
