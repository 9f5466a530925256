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

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full mount configuration, bound from flags, a YAML config
// file, and defaults in that precedence order (cmd/root.go wires viper
// accordingly).
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Logging LoggingConfig `yaml:"logging"`

	Device DeviceConfig `yaml:"device"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Cache CacheConfig `yaml:"cache"`

	Metrics MetricsConfig `yaml:"metrics"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format string `yaml:"format"`

	LogFile string `yaml:"log-file"`

	// CrashFile, if set, receives the value and stack trace of a panic that
	// reaches cmd.Run (appended by recoverToCrashFile, which then re-panics),
	// so a mount running unattended under Phoenix's init leaves a diagnosable
	// trace instead of losing it to a closed stderr.
	CrashFile string `yaml:"crash-file"`
}

// DeviceConfig is the block-device geometry and mount knobs consumed by
// internal/bd and internal/mdir.
type DeviceConfig struct {
	BlockSize     uint32 `yaml:"block-size"`
	ReadSize      uint32 `yaml:"read-size"`
	ProgSize      uint32 `yaml:"prog-size"`
	CacheSize     uint32 `yaml:"cache-size"`
	LookaheadSize uint32 `yaml:"lookahead-size"`
	BlockCount    uint32 `yaml:"block-count"`
	BlockCycles   uint32 `yaml:"block-cycles"`

	MetadataMax uint32 `yaml:"metadata-max"`
	NameMax     uint32 `yaml:"name-max"`
	FileMax     uint64 `yaml:"file-max"`
	AttrMax     uint32 `yaml:"attr-max"`

	ReadOnly bool `yaml:"read-only"`

	DiskVersion DiskVersion `yaml:"disk-version"`

	// WriteForwardCRC controls whether commits append an FCRC tag
	// describing the next program window. Disk-compatibility knob for
	// downgraded mounts; defaults true.
	WriteForwardCRC bool `yaml:"write-forward-crc"`
}

type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode"`
	DirMode  Octal `yaml:"dir-mode"`

	Uid int `yaml:"uid"`
	Gid int `yaml:"gid"`

	UseAtime bool `yaml:"use-atime"`
	UseMtime bool `yaml:"use-mtime"`
	UseCtime bool `yaml:"use-ctime"`
}

type CacheConfig struct {
	MaxCachedObjects int `yaml:"max-cached-objects"`
}

// MetricsConfig controls the Prometheus scrape endpoint exposing the
// counters and histograms internal/metrics records. Port 0 disables it
// entirely, leaving the instruments wired to a no-op provider.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "lfsd", "The application name of this mount.")
	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when the FS mutex is held too long.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log output format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file; empty means stderr.")
	if err = viper.BindPFlag("logging.log-file", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.StringP("crash-file", "", "", "Path to write a crash report on unrecovered panic; empty disables it.")
	if err = viper.BindPFlag("logging.crash-file", flagSet.Lookup("crash-file")); err != nil {
		return err
	}

	flagSet.Uint32P("block-size", "", 4096, "Erase block size in bytes.")
	if err = viper.BindPFlag("device.block-size", flagSet.Lookup("block-size")); err != nil {
		return err
	}

	flagSet.Uint32P("read-size", "", 256, "Minimum read size in bytes.")
	if err = viper.BindPFlag("device.read-size", flagSet.Lookup("read-size")); err != nil {
		return err
	}

	flagSet.Uint32P("prog-size", "", 256, "Minimum program size in bytes.")
	if err = viper.BindPFlag("device.prog-size", flagSet.Lookup("prog-size")); err != nil {
		return err
	}

	flagSet.Uint32P("cache-size", "", 512, "Read/program cache size in bytes.")
	if err = viper.BindPFlag("device.cache-size", flagSet.Lookup("cache-size")); err != nil {
		return err
	}

	flagSet.Uint32P("lookahead-size", "", 128, "Allocator lookahead bitmap size in bytes.")
	if err = viper.BindPFlag("device.lookahead-size", flagSet.Lookup("lookahead-size")); err != nil {
		return err
	}

	flagSet.Uint32P("block-count", "", 0, "Total block count of the device; 0 is used as given and is not read from the superblock.")
	if err = viper.BindPFlag("device.block-count", flagSet.Lookup("block-count")); err != nil {
		return err
	}

	flagSet.Uint32P("block-cycles", "", 100, "Wear-leveling rewrite period; 0 is disallowed.")
	if err = viper.BindPFlag("device.block-cycles", flagSet.Lookup("block-cycles")); err != nil {
		return err
	}

	flagSet.Uint32P("metadata-max", "", 0, "Metadata block cap in bytes, checked against block-size; the engine does not read it and caps metadata at min(block-size, 1024).")
	if err = viper.BindPFlag("device.metadata-max", flagSet.Lookup("metadata-max")); err != nil {
		return err
	}

	flagSet.Uint32P("name-max", "", 255, "Maximum file name length.")
	if err = viper.BindPFlag("device.name-max", flagSet.Lookup("name-max")); err != nil {
		return err
	}

	flagSet.BoolP("read-only", "", false, "Mount read-only; rejects all mutating ops with ROFS.")
	if err = viper.BindPFlag("device.read-only", flagSet.Lookup("read-only")); err != nil {
		return err
	}

	flagSet.BoolP("write-forward-crc", "", true, "Write FCRC tags on commit; disable for old disk-version compatibility.")
	if err = viper.BindPFlag("device.write-forward-crc", flagSet.Lookup("write-forward-crc")); err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0644, "Permission bits for regular files, in octal.")
	if err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0755, "Permission bits for directories, in octal.")
	if err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all entries; -1 keeps the on-disk value.")
	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all entries; -1 keeps the on-disk value.")
	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.BoolP("use-atime", "", true, "Maintain access times.")
	if err = viper.BindPFlag("file-system.use-atime", flagSet.Lookup("use-atime")); err != nil {
		return err
	}

	flagSet.BoolP("use-mtime", "", true, "Maintain modification times.")
	if err = viper.BindPFlag("file-system.use-mtime", flagSet.Lookup("use-mtime")); err != nil {
		return err
	}

	flagSet.BoolP("use-ctime", "", true, "Maintain change times.")
	if err = viper.BindPFlag("file-system.use-ctime", flagSet.Lookup("use-ctime")); err != nil {
		return err
	}

	flagSet.IntP("max-cached-objects", "", 4096, "Maximum PhID objects kept in the LRU cache.")
	if err = viper.BindPFlag("cache.max-cached-objects", flagSet.Lookup("max-cached-objects")); err != nil {
		return err
	}

	flagSet.IntP("metrics-port", "", 0, "Port to serve Prometheus metrics on; 0 disables the endpoint.")
	if err = viper.BindPFlag("metrics.port", flagSet.Lookup("metrics-port")); err != nil {
		return err
	}

	return nil
}
