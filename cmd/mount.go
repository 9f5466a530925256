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

package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/phoenix-rtos/lfsd/cfg"
	"github.com/phoenix-rtos/lfsd/internal/api"
	"github.com/phoenix-rtos/lfsd/internal/bd"
	"github.com/phoenix-rtos/lfsd/internal/clock"
	"github.com/phoenix-rtos/lfsd/internal/filebd"
	"github.com/phoenix-rtos/lfsd/internal/fsstate"
	"github.com/phoenix-rtos/lfsd/internal/logger"
	"github.com/phoenix-rtos/lfsd/internal/metrics"
)

const gcInterval = 30 * time.Second

func severityFor(s cfg.LogSeverity) logger.Severity {
	switch s {
	case cfg.TraceLogSeverity:
		return logger.SeverityTrace
	case cfg.DebugLogSeverity:
		return logger.SeverityDebug
	case cfg.WarningLogSeverity:
		return logger.SeverityWarning
	case cfg.ErrorLogSeverity:
		return logger.SeverityError
	case cfg.OffLogSeverity:
		return logger.SeverityOff
	default:
		return logger.SeverityInfo
	}
}

// logOutput returns os.Stderr for an empty path, or a lumberjack-rotated
// writer for one: a mount running unsupervised under Phoenix's init needs
// its own rotation policy rather than relying on a logging daemon.
func logOutput(path string) io.Writer {
	if path == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    64, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// recoverToCrashFile appends the panic value and stack trace to path, then
// re-panics so the process still exits the way an unrecovered panic
// normally does; the file just leaves a copy behind for a mount running
// unattended where stderr may already be gone by the time anyone looks.
func recoverToCrashFile(path string) {
	if r := recover(); r != nil {
		cw := &CrashWriter{fileName: path}
		fmt.Fprintf(cw, "panic: %v\n\n%s", r, debug.Stack())
		panic(r)
	}
}

// lockMount takes an advisory exclusive flock on the device path so a second
// invocation against the same device fails fast instead of corrupting it;
// the non-portable syscall bits reserved for pidfile/daemonization
// housekeeping.
func lockMount(devicePath string) (*os.File, error) {
	f, err := os.OpenFile(devicePath+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("device %s is already mounted: %w", devicePath, err)
	}
	return f, nil
}

// Run opens devicePath, mounts the core against it, and blocks serving until
// SIGINT/SIGTERM, then unmounts cleanly. mountPoint is currently informational
// only: the IPC/message dispatcher that would bind the API to a kernel mount
// point is explicitly out of scope (internal/ipc), so Run's job ends at
// bringing the core up and tearing it down in step with process lifetime.
func Run(c *cfg.Config, devicePath, mountPoint string) error {
	instanceID := uuid.NewString()
	log := logger.New(logger.Options{
		Severity: severityFor(c.Logging.Severity),
		JSON:     c.Logging.Format == "json",
		Prefix:   fmt.Sprintf("lfsd[%s]: ", instanceID[:8]),
		Out:      logOutput(c.Logging.LogFile),
	})
	logger.SetDefault(log)

	if c.Logging.CrashFile != "" {
		defer recoverToCrashFile(c.Logging.CrashFile)
	}

	var metricsShutdown metrics.ShutdownFn
	if c.Metrics.Port != 0 {
		_, scrapeHandler, shutdown, err := metrics.NewMeterProvider()
		if err != nil {
			return fmt.Errorf("initializing metrics provider: %w", err)
		}
		metricsShutdown = shutdown
		serveMetrics(c.Metrics.Port, scrapeHandler, log)
	}

	m, err := metrics.NewHandle()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	lockFile, err := lockMount(devicePath)
	if err != nil {
		return err
	}
	defer lockFile.Close()

	blockCount := int(c.Device.BlockCount)
	device, err := filebd.Open(devicePath, blockCount, c.Device.BlockSize, c.Device.ReadOnly)
	if err != nil {
		return fmt.Errorf("opening device %s: %w", devicePath, err)
	}
	defer device.Close()

	fsCfg := fsstate.Config{
		Geometry: bd.Geometry{
			ReadSize:      c.Device.ReadSize,
			ProgSize:      c.Device.ProgSize,
			BlockSize:     c.Device.BlockSize,
			CacheSize:     c.Device.CacheSize,
			LookaheadSize: c.Device.LookaheadSize,
			BlockCount:    c.Device.BlockCount,
		},
		ReadOnly:         c.Device.ReadOnly,
		UseAtime:         c.FileSystem.UseAtime,
		UseMtime:         c.FileSystem.UseMtime,
		UseCtime:         c.FileSystem.UseCtime,
		MaxCachedObjects: c.Cache.MaxCachedObjects,
		NameMax:          c.Device.NameMax,
		FileMax:          c.Device.FileMax,
		AttrMax:          c.Device.AttrMax,
		BlockCycles:      c.Device.BlockCycles,
		WriteFCRC:        c.Device.WriteForwardCRC,
	}

	fs, err := fsstate.New(fsCfg, device, clock.RealClock{}, log, m)
	if err != nil {
		return fmt.Errorf("constructing filesystem state: %w", err)
	}

	log.Infof("mounting %s at %s (block-size=%d block-count=%d read-only=%t)",
		devicePath, mountPoint, c.Device.BlockSize, c.Device.BlockCount, c.Device.ReadOnly)

	if err := fs.Mount(); err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	a := api.New(fs, clock.RealClock{}, log)
	_ = a // exported API surface; served by the out-of-scope IPC dispatcher.

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if !c.Device.ReadOnly {
		gcSem := semaphore.NewWeighted(1)
		g.Go(func() error {
			return runGCLoop(gctx, fs, gcSem, log)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Errorf("serve: %v", err)
	}

	log.Infof("unmounting %s", devicePath)
	unmountErr := fs.Unmount()
	if metricsShutdown != nil {
		if err := metricsShutdown(context.Background()); err != nil {
			log.Warnf("metrics shutdown: %v", err)
		}
	}
	return unmountErr
}

// serveMetrics starts the Prometheus scrape endpoint in the background; a
// failure to serve it is logged, not fatal, since metrics are an ambient
// concern the mount can run without.
func serveMetrics(port int, handler http.Handler, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("metrics server on :%d: %v", port, err)
		}
	}()
}

// runGCLoop triggers a background gc() pass on a timer, bounded to one
// in-flight pass at a time by gcSem the same way golang.org/x/sync/semaphore
// bounds any other background worker pool.
func runGCLoop(ctx context.Context, fs *fsstate.FS, gcSem *semaphore.Weighted, log *logger.Logger) error {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !gcSem.TryAcquire(1) {
				continue
			}
			func() {
				defer gcSem.Release(1)
				fs.Mu.Lock()
				defer fs.Mu.Unlock()
				if err := fs.GC(); err != nil {
					log.Warnf("background gc: %v", err)
				}
			}()
		}
	}
}
