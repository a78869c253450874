// Package browser drives a headless Chrome to load pages on behalf of an
// instance.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// hardeningFlags keep the headless browser away from GPU, extensions,
// background services and the local file system API.
var hardeningFlags = []string{
	"--headless",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--disable-extensions",
	"--disable-plugins",
	"--disable-software-rasterizer",
	"--disable-webgl",
	"--disable-3d-apis",
	"--disable-file-system",
	"--disable-background-networking",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-popup-blocking",
	"--disable-prompt-on-repost",
	"--disable-hang-monitor",
	"--disable-sync",
	"--disable-component-update",
	"--disable-default-apps",
	"--disable-notifications",
}

// Args returns the command line for loading url with the profile in
// profileDir.
func Args(url, profileDir string) []string {
	args := make([]string, 0, len(hardeningFlags)+2)
	args = append(args, hardeningFlags...)
	args = append(args, "--user-data-dir="+profileDir, url)
	return args
}

// ChromeVisitor starts a Chrome process per visit, lets the page run for
// Wait and then terminates the browser.
type ChromeVisitor struct {
	Binary string
	Wait   time.Duration
	log    *zap.Logger
}

// NewChromeVisitor creates a ChromeVisitor for the given executable.
func NewChromeVisitor(binary string, wait time.Duration, log *zap.Logger) *ChromeVisitor {
	return &ChromeVisitor{Binary: binary, Wait: wait, log: log}
}

// Visit loads url and blocks for the configured wait. A browser that exits
// with an error before the wait is over counts as a crash.
func (v *ChromeVisitor) Visit(ctx context.Context, url, profileDir string) error {
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cmd := exec.Command(v.Binary, Args(url, profileDir)...)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	v.log.Debug("browser started", zap.String("url", url), zap.Int("pid", cmd.Process.Pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(v.Wait)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("browser exited after %s: %w", time.Since(start).Round(time.Millisecond), err)
		}
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	_ = cmd.Process.Kill()
	<-done
	v.log.Debug("browser stopped", zap.String("url", url), zap.Duration("duration", time.Since(start)))
	return ctx.Err()
}
