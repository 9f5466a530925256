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

func (o Octal) String() string {
	return fmt.Sprintf("%o", int(o))
}

// String renders the config in a form suitable for a startup log line:
// geometry and ownership, without anything that isn't meaningful to echo
// back to an operator.
func (c *Config) String() string {
	return fmt.Sprintf(
		"app-name=%s block-size=%d read-size=%d prog-size=%d cache-size=%d "+
			"block-count=%d block-cycles=%d read-only=%t log-severity=%s",
		c.AppName, c.Device.BlockSize, c.Device.ReadSize, c.Device.ProgSize,
		c.Device.CacheSize, c.Device.BlockCount, c.Device.BlockCycles,
		c.Device.ReadOnly, c.Logging.Severity,
	)
}
