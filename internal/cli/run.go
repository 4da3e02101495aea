package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"campaignd/internal/actor"
	"campaignd/internal/actor/httpactor"
	"campaignd/internal/campaign"
	"campaignd/internal/clock"
	"campaignd/internal/config"
	"campaignd/internal/notify/telegram"
	"campaignd/internal/observability/debug"
	"campaignd/internal/runtime/supervisor"
	"campaignd/internal/session"
	"campaignd/internal/sources"
	"campaignd/internal/storage"
	logx "campaignd/pkg/logx"
	"campaignd/pkg/systemd"
)

// RunCmd returns the worker command.
func RunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daily campaign loop in the foreground",
		Long: `Run the campaign worker until SIGINT or SIGTERM.

Storage failures stop the worker with a non-zero exit status; any other
failure of a cycle is retried after the configured cooldown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, g)
		},
	}
}

func runWorker(ctx context.Context, g *globalFlags) error {
	boot := logx.NewConsole("info")

	cfgm := config.NewConfigManager(g.configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", g.configPath, err)
	}
	creds, err := config.LoadCredentials(g.envFile, cfg.Logging.Telegram.Enabled)
	if err != nil {
		return err
	}

	var sender logx.Sender
	if cfg.Logging.Telegram.Enabled {
		tg, err := telegram.New(creds.TelegramToken)
		if err != nil {
			boot.Warn("telegram log mirror disabled", logx.Err(err))
		} else {
			sender = tg
		}
	}
	logs, log := logx.New(config.LoggingToLogx(cfg.Logging), sender)
	defer logs.Close()
	cfgm.SetLogger(log)
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		_, err := config.Resolve(c)
		return err
	})

	if p := creds.RedactedProxy(); p != "" {
		log.Info("egress proxy configured", logx.String("proxy", p))
	} else {
		log.Warn("no egress proxy configured; the actor will use the host address")
	}

	loc := res.Campaign.Location
	ledger, err := storage.Open(storage.Config{
		Driver:      res.Storage.Driver,
		Path:        res.Storage.Path,
		BusyTimeout: res.Storage.BusyTimeout,
		Now:         func() time.Time { return time.Now().In(loc) },
	}, log)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if n, err := ledger.PurgeOlderThan(ctx, res.Storage.RetentionDays); err != nil {
		return fmt.Errorf("purge ledger: %w", err)
	} else if n > 0 {
		log.Info("purged old ledger records", logx.Int64("removed", n), logx.Int("retention_days", res.Storage.RetentionDays))
	}

	actors, err := httpactor.NewFactory(httpactor.Config{
		Endpoint:   res.Actor.Endpoint,
		Timeout:    res.Actor.Timeout,
		RatePerSec: res.Actor.RatePerSec,
		ProxyURL:   creds.ProxyURL,
	}, log)
	if err != nil {
		return err
	}

	notifier := systemd.NewNotifier(log)
	loop, err := campaign.New(campaignConfig(res), campaign.Deps{
		Syncer: &sources.DirSync{
			SourceDir:    res.Sources.SourceDir,
			WorkDir:      res.Sources.WorkDir,
			DocumentName: res.Sources.DocumentName,
			ListName:     res.Sources.ListName,
			Log:          log,
		},
		Planner:   sources.Parser{},
		Ledger:    ledger,
		Actors:    actors,
		Artifacts: session.FileArtifacts{Path: res.Session.ArtifactPath},
		Login:     actor.Login{Email: creds.Email, Password: creds.Password},
		Clock:     clock.Real{Location: loc},
		Log:       log,
		OnState:   func(s campaign.State) { notifier.Status(s.String()) },
	})
	if err != nil {
		return err
	}

	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(log))
	startedAt := time.Now()
	dbg := debug.New(log, func() any {
		return healthReport{
			State:      loop.State().String(),
			StartedAt:  startedAt,
			Uptime:     time.Since(startedAt).Round(time.Second).String(),
			Goroutines: sup.Snapshot(),
		}
	})
	dbg.Apply(debugConfig(cfg.Debug, creds.DebugToken))
	defer dbg.Stop(context.Background())

	sup.GoRestart("campaign", loop.Run, supervisor.WithRestartBackoff(res.Campaign.Cooldown, res.Campaign.Cooldown))
	sup.Go("config.watch", cfgm.Watch)
	sup.Go("config.reload", func(c context.Context) error {
		applyConfigReloads(c, cfgm, log, func(newCfg *config.Config) {
			logs.Apply(config.LoggingToLogx(newCfg.Logging))
			dbg.Apply(debugConfig(newCfg.Debug, creds.DebugToken))
		})
		return nil
	})
	sup.Go("systemd.watchdog", notifier.Watchdog)

	log.Info("campaignd started",
		logx.String("config", g.configPath),
		logx.String("ledger", res.Storage.Path),
		logx.String("wake", res.Campaign.WakeSpec),
		logx.String("tz", loc.String()),
		logx.Int("daily_limit", res.Campaign.DailyLimit),
	)
	notifier.Ready()

	<-sup.Context().Done()
	notifier.Stopping()
	log.Info("shutting down", logx.String("state", loop.State().String()))

	// An in-flight post is allowed to finish.
	stopCtx, cancel := context.WithTimeout(context.Background(), res.Actor.Timeout+30*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil {
		log.Error("worker stopped with error", logx.Err(err))
		return err
	}
	log.Info("stopped")
	return nil
}

func campaignConfig(res *config.Resolved) campaign.Config {
	c := res.Campaign
	return campaign.Config{
		DailyLimit:   c.DailyLimit,
		MaxPool:      c.MaxPool,
		MaxRetries:   c.MaxRetries,
		PostDelayMin: c.PostDelayMin,
		PostDelayMax: c.PostDelayMax,
		FailureDelay: c.FailureDelay,
		BackoffMin:   c.BackoffMin,
		BackoffMax:   c.BackoffMax,
		SyncRetry:    c.SyncRetry,
		AuthRetry:    c.AuthRetry,
		Wake:         c.Wake,
		Warmup:       c.Warmup,
		Identity:     res.Actor.Identity,
		Session: session.Config{
			LoginTimeout:  res.Session.LoginTimeout,
			PollInterval:  res.Session.PollInterval,
			RecheckDelay:  res.Session.RecheckDelay,
			MaxAge:        c.SessionMaxAge,
			ScreenshotDir: res.Session.ScreenshotDir,
		},
	}
}

// healthReport is served on the debug listener's /healthz.
type healthReport struct {
	State      string                      `json:"state"`
	StartedAt  time.Time                   `json:"started_at"`
	Uptime     string                      `json:"uptime"`
	Goroutines []supervisor.GoroutineStats `json:"goroutines"`
}

func debugConfig(c config.DebugConfig, token string) debug.Config {
	return debug.Config{
		Enabled:              c.Enabled,
		Address:              c.Address,
		Token:                token,
		BlockProfileRate:     c.BlockProfileRate,
		MutexProfileFraction: c.MutexProfileFraction,
	}
}

// applyConfigReloads hands every published config to apply, which updates
// the live sections. Other sections only take effect on the next start.
func applyConfigReloads(ctx context.Context, cfgm *config.ConfigManager, log logx.Logger, apply func(*config.Config)) {
	sub := cfgm.Subscribe(8)
	defer cfgm.Unsubscribe(sub)

	lastApplied := cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = drainLatest(sub, newCfg)

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				log.Debug("config reload received, but no effective changes detected")
				continue
			}

			var restart []string
			for _, s := range sections {
				if !config.LiveSections[s] {
					restart = append(restart, s)
				}
			}
			apply(newCfg)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			log.Info("config reloaded", fields...)
			if len(restart) > 0 {
				log.Warn("config changes need a restart to take effect", logx.Strs("sections", restart))
			}
		}
	}
}

// drainLatest coalesces a burst of reloads into the newest one.
func drainLatest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}
