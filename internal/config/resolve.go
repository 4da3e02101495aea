package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Resolved is the typed view of Config with defaults applied.
type Resolved struct {
	Storage  StorageSettings
	Campaign CampaignSettings
	Session  SessionSettings
	Sources  SourcesConfig
	Actor    ActorSettings
}

type StorageSettings struct {
	Driver        string
	Path          string
	BusyTimeout   time.Duration
	RetentionDays int
}

type CampaignSettings struct {
	DailyLimit int
	MaxPool    int
	MaxRetries int

	PostDelayMin time.Duration
	PostDelayMax time.Duration
	FailureDelay time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration

	SyncRetry time.Duration
	AuthRetry time.Duration
	Cooldown  time.Duration

	Wake     cron.Schedule
	WakeSpec string
	Location *time.Location

	Warmup        bool
	SessionMaxAge time.Duration
}

type SessionSettings struct {
	LoginTimeout  time.Duration
	PollInterval  time.Duration
	RecheckDelay  time.Duration
	ArtifactPath  string
	ScreenshotDir string
}

type ActorSettings struct {
	Endpoint   string
	Timeout    time.Duration
	RatePerSec int
	Identity   string
}

// Resolve validates cfg and fills defaults. Every problem found is reported,
// joined into one error, so a broken file is fixed in one pass.
func Resolve(cfg *Config) (*Resolved, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return def
		}
		return d
	}

	r := &Resolved{}

	st, err := ResolveStorage(cfg.Storage)
	if err != nil {
		errs = append(errs, err)
	}
	r.Storage = st

	// Campaign
	c := cfg.Campaign
	r.Campaign.DailyLimit = intOr(c.DailyLimit, 40)
	r.Campaign.MaxPool = intOr(c.MaxPool, 150)
	r.Campaign.MaxRetries = intOr(c.MaxRetries, 3)
	if c.DailyLimit < 0 || c.MaxPool < 0 || c.MaxRetries < 0 {
		errs = append(errs, errors.New("campaign: daily_limit, max_pool and max_retries must be >= 0"))
	}
	r.Campaign.PostDelayMin = dur("campaign.post_delay_min", c.PostDelayMin, 180*time.Second)
	r.Campaign.PostDelayMax = dur("campaign.post_delay_max", c.PostDelayMax, 400*time.Second)
	if r.Campaign.PostDelayMax < r.Campaign.PostDelayMin {
		errs = append(errs, fmt.Errorf("campaign.post_delay_max (%s) < post_delay_min (%s)", r.Campaign.PostDelayMax, r.Campaign.PostDelayMin))
	}
	r.Campaign.FailureDelay = dur("campaign.failure_delay", c.FailureDelay, 30*time.Second)
	r.Campaign.BackoffMin = dur("campaign.backoff_min", c.BackoffMin, 10*time.Second)
	r.Campaign.BackoffMax = dur("campaign.backoff_max", c.BackoffMax, 20*time.Second)
	if r.Campaign.BackoffMax < r.Campaign.BackoffMin {
		errs = append(errs, fmt.Errorf("campaign.backoff_max (%s) < backoff_min (%s)", r.Campaign.BackoffMax, r.Campaign.BackoffMin))
	} else if r.Campaign.BackoffMax > 2*r.Campaign.BackoffMin {
		// Wider jitter lets a later retry wait less than an earlier one.
		errs = append(errs, fmt.Errorf("campaign.backoff_max (%s) > 2x backoff_min (%s)", r.Campaign.BackoffMax, r.Campaign.BackoffMin))
	}
	r.Campaign.SyncRetry = dur("campaign.sync_retry", c.SyncRetry, time.Hour)
	r.Campaign.AuthRetry = dur("campaign.auth_retry", c.AuthRetry, 10*time.Minute)
	r.Campaign.Cooldown = dur("campaign.cooldown", c.Cooldown, 5*time.Minute)
	r.Campaign.SessionMaxAge = dur("campaign.session_max_age", c.SessionMaxAge, 4*time.Hour)
	r.Campaign.Warmup = c.Warmup == nil || *c.Warmup

	r.Campaign.WakeSpec = strings.TrimSpace(c.WakeSchedule)
	if r.Campaign.WakeSpec == "" {
		r.Campaign.WakeSpec = "1 0 * * *"
	}
	sched, err := cron.ParseStandard(r.Campaign.WakeSpec)
	if err != nil {
		errs = append(errs, fmt.Errorf("campaign.wake_schedule: %w", err))
	}
	r.Campaign.Wake = sched

	loc, err := ResolveLocation(c.Timezone)
	if err != nil {
		errs = append(errs, err)
	}
	r.Campaign.Location = loc

	// Session
	s := cfg.Session
	r.Session.LoginTimeout = dur("session.login_timeout", s.LoginTimeout, 300*time.Second)
	r.Session.PollInterval = dur("session.poll_interval", s.PollInterval, 5*time.Second)
	r.Session.RecheckDelay = dur("session.recheck_delay", s.RecheckDelay, 8*time.Second)
	r.Session.ArtifactPath = strOr(s.ArtifactPath, "./data/session.json")
	r.Session.ScreenshotDir = strOr(s.ScreenshotDir, "./data/screenshots")

	// Sources
	r.Sources = cfg.Sources
	r.Sources.WorkDir = strOr(cfg.Sources.WorkDir, "./data/work")
	for _, kv := range [][2]string{
		{"sources.source_dir", cfg.Sources.SourceDir},
		{"sources.document_name", cfg.Sources.DocumentName},
		{"sources.list_name", cfg.Sources.ListName},
	} {
		if strings.TrimSpace(kv[1]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", kv[0]))
		}
	}

	// Actor
	r.Actor.Endpoint = strings.TrimSpace(cfg.Actor.Endpoint)
	if r.Actor.Endpoint == "" {
		errs = append(errs, errors.New("actor.endpoint is required"))
	} else if u, err := url.Parse(r.Actor.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("actor.endpoint: invalid url %q", r.Actor.Endpoint))
	}
	r.Actor.Timeout = dur("actor.timeout", cfg.Actor.Timeout, 2*time.Minute)
	r.Actor.RatePerSec = intOr(cfg.Actor.RatePerSec, 2)
	r.Actor.Identity = strings.TrimSpace(cfg.Actor.Identity)

	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.chat_id is required when the telegram mirror is enabled"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// ResolveStorage applies the storage defaults. Commands that only read the
// ledger use it without requiring the rest of the file to be complete.
func ResolveStorage(c StorageConfig) (StorageSettings, error) {
	st := StorageSettings{
		Driver:        strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:          strOr(c.Path, "./data/ledger.db"),
		RetentionDays: intOr(c.RetentionDays, 30),
	}
	if st.Driver == "" {
		st.Driver = "sqlite"
	}
	d, err := ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 5*time.Second)
	if err != nil {
		return st, err
	}
	st.BusyTimeout = d
	return st, nil
}

// ResolveLocation loads the campaign timezone; empty means the host's.
func ResolveLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local, fmt.Errorf("campaign.timezone: %w", err)
	}
	return loc, nil
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func strOr(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}
