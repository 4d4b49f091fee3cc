// Command watchdog supervises the cryptum engine process. It launches the
// engine, polls the loopback health endpoint on an interval, and restarts
// the process after a run of consecutive failed checks. A freshly started
// process gets a boot grace period before the first check counts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

type options struct {
	healthURL     string
	checkInterval time.Duration
	maxStrikes    int
	bootGrace     time.Duration
	command       []string
}

func main() {
	healthURL := flag.String("url", "http://127.0.0.1:8002/api/status", "health endpoint URL")
	checkInterval := flag.Duration("interval", 60*time.Second, "health check interval")
	maxStrikes := flag.Int("strikes", 3, "consecutive failures before restart")
	bootGrace := flag.Duration("grace", 30*time.Second, "boot grace before checks count")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	command := flag.Args()
	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "usage: watchdog [flags] -- <engine command> [args...]")
		os.Exit(2)
	}

	opts := options{
		healthURL:     *healthURL,
		checkInterval: *checkInterval,
		maxStrikes:    *maxStrikes,
		bootGrace:     *bootGrace,
		command:       command,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervise(ctx, opts, logger); err != nil && err != context.Canceled {
		logger.Error("watchdog exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("watchdog stopped")
}

// supervise runs the engine process and restarts it whenever the health
// checks accumulate enough strikes or the process exits on its own. It
// returns only when ctx is cancelled.
func supervise(ctx context.Context, opts options, logger *slog.Logger) error {
	client := &http.Client{Timeout: 10 * time.Second}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cmd := exec.Command(opts.command[0], opts.command[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		logger.Info("starting engine process", slog.String("command", strings.Join(opts.command, " ")))
		if err := cmd.Start(); err != nil {
			logger.Error("engine start failed, retrying", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.checkInterval):
			}
			continue
		}

		exited := make(chan error, 1)
		go func() { exited <- cmd.Wait() }()

		restart := watch(ctx, opts, client, exited, logger)

		if ctx.Err() != nil {
			terminate(cmd, exited, logger)
			return ctx.Err()
		}
		if restart {
			terminate(cmd, exited, logger)
			logger.Warn("restarting engine process")
		}

		// Pause between restarts so a crash-looping engine does not spin.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

// watch polls the health endpoint until the process needs a restart, the
// process exits, or ctx is cancelled. It returns true when the caller should
// terminate the process before restarting.
func watch(ctx context.Context, opts options, client *http.Client, exited <-chan error, logger *slog.Logger) bool {
	bootDeadline := time.Now().Add(opts.bootGrace)
	strikes := 0

	ticker := time.NewTicker(opts.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-exited:
			logger.Error("engine process exited", slog.Any("error", err))
			return false // already dead, caller restarts without terminate
		case <-ticker.C:
			if time.Now().Before(bootDeadline) {
				continue
			}
			if err := checkHealth(ctx, client, opts.healthURL); err != nil {
				strikes++
				logger.Warn("health check failed",
					slog.Int("strikes", strikes),
					slog.Int("max_strikes", opts.maxStrikes),
					slog.String("error", err.Error()),
				)
				if strikes >= opts.maxStrikes {
					return true
				}
				continue
			}
			if strikes > 0 {
				logger.Info("health recovered", slog.Int("cleared_strikes", strikes))
			}
			strikes = 0
		}
	}
}

// checkHealth calls the status endpoint and verifies the response carries the
// run-state field. Any transport error, non-200 status, or malformed body
// counts as a strike.
func checkHealth(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		IsRunning *bool `json:"is_running"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if body.IsRunning == nil {
		return fmt.Errorf("response missing is_running")
	}
	return nil
}

// terminate sends SIGTERM and waits briefly, escalating to SIGKILL if the
// process does not exit.
func terminate(cmd *exec.Cmd, exited <-chan error, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exited:
	case <-time.After(15 * time.Second):
		logger.Warn("engine did not exit after SIGTERM, killing")
		_ = cmd.Process.Kill()
		<-exited
	}
}
