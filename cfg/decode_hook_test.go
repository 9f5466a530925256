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
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestParsingSuccess(t *testing.T) {
	type TestConfig struct {
		OctalParam       Octal
		BoolParam        bool
		StringParam      string
		IntParam         int
		FloatParam       float64
		DurationParam    time.Duration
		StringSliceParam []string
		IntSliceParam    []int
		LogSeverityParam LogSeverity
		DiskVersionParam DiskVersion
	}
	declareFlags := func() *flag.FlagSet {
		fs := flag.NewFlagSet("test", flag.ExitOnError)
		fs.String("octalParam", "0", "")
		fs.String("stringParam", "", "")
		fs.Int("intParam", 0, "")
		fs.Float64("floatParam", 0.0, "")
		fs.Duration("durationParam", 0*time.Nanosecond, "")
		fs.StringSlice("stringSliceParam", []string{}, "")
		fs.IntSlice("intSliceParam", []int{}, "")
		fs.Bool("boolParam", false, "")
		fs.String("logSeverityParam", "INFO", "")
		fs.String("diskVersionParam", "", "")
		return fs
	}

	bindFlags := func(fs *flag.FlagSet) *viper.Viper {
		v := viper.New()
		v.BindPFlag("OctalParam", fs.Lookup("octalParam"))
		v.BindPFlag("StringParam", fs.Lookup("stringParam"))
		v.BindPFlag("IntParam", fs.Lookup("intParam"))
		v.BindPFlag("FloatParam", fs.Lookup("floatParam"))
		v.BindPFlag("DurationParam", fs.Lookup("durationParam"))
		v.BindPFlag("StringSliceParam", fs.Lookup("stringSliceParam"))
		v.BindPFlag("IntSliceParam", fs.Lookup("intSliceParam"))
		v.BindPFlag("BoolParam", fs.Lookup("boolParam"))
		v.BindPFlag("LogSeverityParam", fs.Lookup("logSeverityParam"))
		v.BindPFlag("DiskVersionParam", fs.Lookup("diskVersionParam"))
		return v
	}
	tests := []struct {
		name   string
		args   []string
		testFn func(*testing.T, TestConfig)
	}{
		{
			name: "Octal",
			args: []string{"--octalParam=755"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.Equal(t, Octal(0755), c.OctalParam)
			},
		},
		{
			name: "Bool1",
			args: []string{"--boolParam"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.True(t, c.BoolParam)
			},
		},
		{
			name: "Bool3",
			args: []string{"--boolParam=false"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.False(t, c.BoolParam)
			},
		},
		{
			name: "String",
			args: []string{"--stringParam=abc"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.Equal(t, "abc", c.StringParam)
			},
		},
		{
			name: "Int",
			args: []string{"--intParam=23"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.Equal(t, 23, c.IntParam)
			},
		},
		{
			name: "Duration",
			args: []string{"--durationParam=30s"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.Equal(t, 30*time.Second, c.DurationParam)
			},
		},
		{
			name: "StringSlice",
			args: []string{"--stringSliceParam=a,b"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.ElementsMatch(t, []string{"a", "b"}, c.StringSliceParam)
			},
		},
		{
			name: "IntSlice",
			args: []string{"--intSliceParam=2,-11"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.ElementsMatch(t, []int{2, -11}, c.IntSliceParam)
			},
		},
		{
			name: "LogSeverity",
			args: []string{"--logSeverityParam=WARNING"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.Equal(t, LogSeverity("WARNING"), c.LogSeverityParam)
			},
		},
		{
			name: "DiskVersion",
			args: []string{"--diskVersionParam=2.0"},
			testFn: func(t *testing.T, c TestConfig) {
				assert.Equal(t, DiskVersion("2.0"), c.DiskVersionParam)
			},
		},
	}

	for _, k := range tests {
		t.Run(k.name, func(t *testing.T) {
			c := TestConfig{}
			fs := declareFlags()
			v := bindFlags(fs)
			args := []string{"test"}
			args = append(args, k.args...)
			err := fs.Parse(args)
			if err != nil {
				t.Fatalf("Flag parsing failed: %v", err)
			}

			err = v.Unmarshal(&c, viper.DecodeHook(DecodeHook()))

			if assert.Nil(t, err) {
				k.testFn(t, c)
			}
		})
	}
}

func TestParsingError(t *testing.T) {
	type TestConfig struct {
		OctalParam       Octal
		LogSeverityParam LogSeverity
	}
	declareFlags := func() *flag.FlagSet {
		fs := flag.NewFlagSet("test", flag.ExitOnError)
		fs.String("octalParam", "0", "")
		fs.String("logSeverityParam", "INFO", "")
		return fs
	}
	bindFlags := func(fs *flag.FlagSet) *viper.Viper {
		v := viper.New()
		v.BindPFlag("OctalParam", fs.Lookup("octalParam"))
		v.BindPFlag("LogSeverityParam", fs.Lookup("logSeverityParam"))
		return v
	}
	tests := []struct {
		name string
		args []string
	}{
		{
			name: "Octal",
			args: []string{"--octalParam=923"},
		},
		{
			name: "LogSeverity",
			args: []string{"--logSeverityParam=abc"},
		},
	}
	for _, k := range tests {
		t.Run(k.name, func(t *testing.T) {
			fs := declareFlags()
			v := bindFlags(fs)
			c := TestConfig{}
			args := []string{"test"}
			args = append(args, k.args...)
			err := fs.Parse(args)
			if err != nil {
				t.Fatalf("Flag parsing failed: %v", err)
			}

			err = v.Unmarshal(&c, viper.DecodeHook(DecodeHook()))

			assert.NotNil(t, err)
		})
	}
}
