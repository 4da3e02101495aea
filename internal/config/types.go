package config

// Config is the persisted key-value set consumed at process start.
//
// The logging and debug sections are applied live on reload; everything else
// takes effect the next time the worker process starts.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Campaign CampaignConfig `json:"campaign"`
	Session  SessionConfig  `json:"session"`
	Sources  SourcesConfig  `json:"sources"`
	Actor    ActorConfig    `json:"actor"`
	Debug    DebugConfig    `json:"debug"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors the log stream into a chat. The bot token is read
// from CAMPAIGN_TELEGRAM_TOKEN, never from the file.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the ledger database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/ledger.db" }
type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string
	RetentionDays int    `json:"retention_days,omitempty"`
}

// CampaignConfig controls the daily cycle.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - daily_limit: 40
//   - max_pool: 150
//   - max_retries: 3
//   - post_delay_min / post_delay_max: "180s" / "400s"
//   - failure_delay: "30s"
//   - backoff_min / backoff_max: "10s" / "20s"
//   - sync_retry: "1h", auth_retry: "10m", cooldown: "5m"
//   - wake_schedule: "1 0 * * *" (00:01 every day)
//   - session_max_age: "4h"
type CampaignConfig struct {
	DailyLimit int `json:"daily_limit,omitempty"`
	MaxPool    int `json:"max_pool,omitempty"`
	MaxRetries int `json:"max_retries,omitempty"`

	PostDelayMin string `json:"post_delay_min,omitempty"`
	PostDelayMax string `json:"post_delay_max,omitempty"`
	FailureDelay string `json:"failure_delay,omitempty"`
	BackoffMin   string `json:"backoff_min,omitempty"`
	BackoffMax   string `json:"backoff_max,omitempty"`

	SyncRetry string `json:"sync_retry,omitempty"`
	AuthRetry string `json:"auth_retry,omitempty"`
	Cooldown  string `json:"cooldown,omitempty"`

	// WakeSchedule is a standard 5-field cron expression for the next cycle start.
	WakeSchedule string `json:"wake_schedule,omitempty"`
	Timezone     string `json:"timezone,omitempty"`

	// Warmup is a pointer so an omitted value defaults to true.
	Warmup        *bool  `json:"warmup,omitempty"`
	SessionMaxAge string `json:"session_max_age,omitempty"`
}

type SessionConfig struct {
	LoginTimeout  string `json:"login_timeout,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	RecheckDelay  string `json:"recheck_delay,omitempty"`
	ArtifactPath  string `json:"artifact_path,omitempty"`
	ScreenshotDir string `json:"screenshot_dir,omitempty"`
}

// SourcesConfig describes where the daily document and destination list come from.
//
// SourceDir is typically a locally mounted cloud folder; the sync step copies
// the two named files into WorkDir.
type SourcesConfig struct {
	SourceDir    string `json:"source_dir"`
	WorkDir      string `json:"work_dir,omitempty"`
	DocumentName string `json:"document_name"`
	ListName     string `json:"list_name"`
}

// ActorConfig points at the browser automation sidecar.
type ActorConfig struct {
	Endpoint   string `json:"endpoint"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Identity   string `json:"identity,omitempty"`
}

// DebugConfig controls the operator listener serving pprof and /healthz.
// It is applied live. A non-loopback address requires CAMPAIGN_DEBUG_TOKEN.
type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address,omitempty"` // default 127.0.0.1:6060
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}
