package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	logx "campaignd/pkg/logx"
)

// SuperviseCmd returns the supervise command. It keeps a "run" child
// process alive for hosts without a service manager.
func SuperviseCmd(g *globalFlags) *cobra.Command {
	var spec childSpec
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the worker as a child process and restart it when it exits",
		Long: `Start "campaignd run" as a child process and restart it with backoff
whenever it exits with an error. SIGINT and SIGTERM are forwarded to the
child; a clean child exit ends the supervisor.

Prefer a systemd unit with Restart=on-failure where one is available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			spec.path = exe
			spec.args = []string{"run", "--config", g.configPath, "--env-file", g.envFile}
			spec.stdout, spec.stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return superviseChild(ctx, spec, logx.NewConsole("info"))
		},
	}
	cmd.Flags().DurationVar(&spec.minBackoff, "min-backoff", 5*time.Second, "delay before the first restart")
	cmd.Flags().DurationVar(&spec.maxBackoff, "max-backoff", 5*time.Minute, "upper bound of the restart delay")
	cmd.Flags().DurationVar(&spec.stopTimeout, "stop-timeout", 3*time.Minute, "time the child gets to exit after SIGTERM")
	return cmd
}

type childSpec struct {
	path string
	args []string

	stdout, stderr io.Writer

	minBackoff  time.Duration
	maxBackoff  time.Duration
	stopTimeout time.Duration
}

// healthyRun is how long a child must live for the backoff to reset.
const healthyRun = time.Minute

func superviseChild(ctx context.Context, spec childSpec, log logx.Logger) error {
	log = log.With(logx.String("comp", "supervise"))
	if spec.minBackoff <= 0 {
		spec.minBackoff = time.Second
	}
	if spec.maxBackoff < spec.minBackoff {
		spec.maxBackoff = spec.minBackoff
	}
	if spec.stopTimeout <= 0 {
		spec.stopTimeout = 30 * time.Second
	}

	backoff := spec.minBackoff
	for restarts := 0; ; restarts++ {
		startedAt := time.Now()
		c := exec.Command(spec.path, spec.args...)
		c.Stdout, c.Stderr = spec.stdout, spec.stderr
		if err := c.Start(); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		log.Info("worker started", logx.Int("pid", c.Process.Pid), logx.Int("restarts", restarts))

		done := make(chan error, 1)
		go func() { done <- c.Wait() }()

		var err error
		select {
		case err = <-done:
		case <-ctx.Done():
			_ = c.Process.Signal(syscall.SIGTERM)
			t := time.NewTimer(spec.stopTimeout)
			select {
			case err = <-done:
				t.Stop()
			case <-t.C:
				log.Warn("worker ignored SIGTERM; killing", logx.Duration("timeout", spec.stopTimeout))
				_ = c.Process.Kill()
				err = <-done
			}
			if err != nil {
				log.Warn("worker stopped with error", logx.Err(err))
			} else {
				log.Info("worker stopped")
			}
			return nil
		}

		if err == nil {
			log.Info("worker exited cleanly")
			return nil
		}
		if time.Since(startedAt) >= healthyRun {
			backoff = spec.minBackoff
		}
		log.Error("worker exited; restarting after cooldown", logx.Duration("cooldown", backoff), logx.Err(err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, spec.maxBackoff)
	}
}
