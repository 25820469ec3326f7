// Package config loads dopple configuration: built-in defaults, then an
// optional TOML file, then environment variables.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"dopple/internal/httpkit"
)

// Duration is a time.Duration written as "25s" or "14m" in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server        Server        `toml:"server"`
	Store         Store         `toml:"store"`
	Providers     Providers     `toml:"providers"`
	Notifications Notifications `toml:"notifications"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Poll          Poll          `toml:"poll"`
	Retry         Retry         `toml:"retry"`
	Worker        Worker        `toml:"worker"`
	Redis         Redis         `toml:"redis"`
}

type Server struct {
	Port            string   `toml:"port"`
	CORSOrigins     []string `toml:"cors_allowed_origins"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type Store struct {
	// Provider is one of localfs, gdrive, s3, redis, postgres, sqlite, memory.
	Provider    string `toml:"provider"`
	LocalRoot   string `toml:"local_root"`
	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`
	Namespace   string `toml:"redis_namespace"`
	GDrive      GDrive `toml:"gdrive"`
	S3          S3     `toml:"s3"`
}

type GDrive struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	FolderID     string `toml:"folder_id"`
}

type S3 struct {
	Bucket   string `toml:"bucket"`
	Region   string `toml:"region"`
	Prefix   string `toml:"prefix"`
	Endpoint string `toml:"endpoint"`
}

type Providers struct {
	// Likeness selects the render provider: heygen or fake.
	Likeness       string     `toml:"likeness"`
	RequestTimeout Duration   `toml:"request_timeout"`
	DefaultVoice   string     `toml:"default_voice"`
	HeyGen         HeyGen     `toml:"heygen"`
	ElevenLabs     ElevenLabs `toml:"elevenlabs"`
	OpenAI         OpenAI     `toml:"openai"`
}

type HeyGen struct {
	APIKey     string `toml:"api_key"`
	APIBase    string `toml:"api_base"`
	UploadBase string `toml:"upload_base"`
	Width      int    `toml:"width"`
	Height     int    `toml:"height"`
}

type ElevenLabs struct {
	APIKey  string `toml:"api_key"`
	APIBase string `toml:"api_base"`
}

type OpenAI struct {
	APIKey  string `toml:"api_key"`
	APIBase string `toml:"api_base"`
	Model   string `toml:"model"`
}

type Notifications struct {
	NtfyTopic      string   `toml:"ntfy_topic"`
	WebhookURL     string   `toml:"webhook_url"`
	PublicURL      string   `toml:"public_url"`
	RequestTimeout Duration `toml:"request_timeout"`
}

type Scheduler struct {
	ShortBudget   Duration `toml:"short_budget"`
	SweepBudget   Duration `toml:"sweep_budget"`
	SafetyMargin  Duration `toml:"safety_margin"`
	MaxCandidates int      `toml:"max_candidates"`
}

type Poll struct {
	MaxConcurrency int      `toml:"max_concurrency"`
	MaxPolls       int      `toml:"max_polls"`
	MaxAge         Duration `toml:"max_age"`
}

type Retry struct {
	Attempts  int      `toml:"attempts"`
	BaseDelay Duration `toml:"base_delay"`
	MaxDelay  Duration `toml:"max_delay"`
}

type Worker struct {
	SweepInterval Duration `toml:"sweep_interval"`
	KickQueue     string   `toml:"kick_queue"`
	PopTimeout    Duration `toml:"pop_timeout"`
}

type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

func Default() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			RequestTimeout:  Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Store: Store{
			Provider:   "localfs",
			LocalRoot:  "./data",
			SQLitePath: "./data/dopple.db",
			Namespace:  "dopple:blob:",
		},
		Providers: Providers{
			Likeness:       "heygen",
			RequestTimeout: Duration(20 * time.Second),
		},
		Notifications: Notifications{
			RequestTimeout: Duration(10 * time.Second),
		},
		Scheduler: Scheduler{
			ShortBudget:   Duration(25 * time.Second),
			SweepBudget:   Duration(14 * time.Minute),
			SafetyMargin:  Duration(5 * time.Second),
			MaxCandidates: 200,
		},
		Poll: Poll{
			MaxConcurrency: 4,
			MaxPolls:       240,
			MaxAge:         Duration(6 * time.Hour),
		},
		Retry: Retry{
			Attempts:  2,
			BaseDelay: Duration(500 * time.Millisecond),
			MaxDelay:  Duration(5 * time.Second),
		},
		Worker: Worker{
			SweepInterval: Duration(15 * time.Minute),
			KickQueue:     "dopple:kicks",
			PopTimeout:    Duration(30 * time.Second),
		},
	}
}

// Load builds the configuration. path names an optional TOML file; when
// empty, CONFIG_FILE is consulted. A named file that does not exist is an
// error only when it was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = Env("CONFIG_FILE", "")
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			if explicit || !stderrors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) decodeFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	dec := toml.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables. Variable names follow the ones
// the services have always read (HTTP_PORT, STORAGE_PROVIDER, ...).
func (c *Config) applyEnv() {
	c.Server.Port = Env("HTTP_PORT", c.Server.Port)
	if v := Env("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.Server.CORSOrigins = httpkit.SplitCSV(v)
	}
	c.Server.RequestTimeout = Duration(DurationEnv("HTTP_REQUEST_TIMEOUT", c.Server.RequestTimeout.Std()))
	c.Server.ShutdownTimeout = Duration(DurationEnv("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout.Std()))

	c.Store.Provider = Env("STORAGE_PROVIDER", c.Store.Provider)
	c.Store.LocalRoot = Env("STORAGE_LOCAL_ROOT", c.Store.LocalRoot)
	c.Store.DatabaseURL = Env("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SQLitePath = Env("STORAGE_SQLITE_PATH", c.Store.SQLitePath)
	c.Store.Namespace = Env("STORAGE_REDIS_NAMESPACE", c.Store.Namespace)
	c.Store.GDrive.ClientID = Env("GDRIVE_CLIENT_ID", c.Store.GDrive.ClientID)
	c.Store.GDrive.ClientSecret = Env("GDRIVE_CLIENT_SECRET", c.Store.GDrive.ClientSecret)
	c.Store.GDrive.RefreshToken = Env("GDRIVE_REFRESH_TOKEN", c.Store.GDrive.RefreshToken)
	c.Store.GDrive.FolderID = Env("GDRIVE_FOLDER_ID", c.Store.GDrive.FolderID)
	c.Store.S3.Bucket = Env("S3_BUCKET", c.Store.S3.Bucket)
	c.Store.S3.Region = Env("AWS_REGION", c.Store.S3.Region)
	c.Store.S3.Prefix = Env("S3_PREFIX", c.Store.S3.Prefix)
	c.Store.S3.Endpoint = Env("S3_ENDPOINT", c.Store.S3.Endpoint)

	c.Providers.Likeness = Env("LIKENESS_PROVIDER", c.Providers.Likeness)
	c.Providers.DefaultVoice = Env("DEFAULT_VOICE_ID", c.Providers.DefaultVoice)
	c.Providers.RequestTimeout = Duration(DurationEnv("PROVIDER_REQUEST_TIMEOUT", c.Providers.RequestTimeout.Std()))
	c.Providers.HeyGen.APIKey = Env("HEYGEN_API_KEY", c.Providers.HeyGen.APIKey)
	c.Providers.HeyGen.APIBase = Env("HEYGEN_API_BASE", c.Providers.HeyGen.APIBase)
	c.Providers.ElevenLabs.APIKey = Env("ELEVENLABS_API_KEY", c.Providers.ElevenLabs.APIKey)
	c.Providers.OpenAI.APIKey = Env("OPENAI_API_KEY", c.Providers.OpenAI.APIKey)
	c.Providers.OpenAI.Model = Env("OPENAI_MODEL", c.Providers.OpenAI.Model)

	c.Notifications.NtfyTopic = Env("NTFY_TOPIC", c.Notifications.NtfyTopic)
	c.Notifications.WebhookURL = Env("NOTIFY_WEBHOOK_URL", c.Notifications.WebhookURL)
	c.Notifications.PublicURL = Env("PUBLIC_URL", c.Notifications.PublicURL)

	c.Scheduler.ShortBudget = Duration(DurationEnv("SHORT_BUDGET", c.Scheduler.ShortBudget.Std()))
	c.Scheduler.SweepBudget = Duration(DurationEnv("SWEEP_BUDGET", c.Scheduler.SweepBudget.Std()))
	c.Scheduler.SafetyMargin = Duration(DurationEnv("BUDGET_SAFETY_MARGIN", c.Scheduler.SafetyMargin.Std()))
	c.Scheduler.MaxCandidates = IntEnv("MAX_CANDIDATES", c.Scheduler.MaxCandidates)

	c.Poll.MaxConcurrency = IntEnv("POLL_MAX_CONCURRENCY", c.Poll.MaxConcurrency)
	c.Poll.MaxPolls = IntEnv("POLL_MAX_POLLS", c.Poll.MaxPolls)
	c.Poll.MaxAge = Duration(DurationEnv("POLL_MAX_AGE", c.Poll.MaxAge.Std()))

	c.Retry.Attempts = IntEnv("RETRY_ATTEMPTS", c.Retry.Attempts)

	c.Worker.SweepInterval = Duration(DurationEnv("SWEEP_INTERVAL", c.Worker.SweepInterval.Std()))
	c.Worker.KickQueue = Env("JOB_QUEUE_NAME", c.Worker.KickQueue)

	c.Redis.Addr = Env("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = Env("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = IntEnv("REDIS_DB", c.Redis.DB)
}

func (c *Config) normalize() {
	c.Store.Provider = strings.ToLower(strings.TrimSpace(c.Store.Provider))
	c.Providers.Likeness = strings.ToLower(strings.TrimSpace(c.Providers.Likeness))
	c.Notifications.PublicURL = strings.TrimRight(strings.TrimSpace(c.Notifications.PublicURL), "/")
	c.Server.Port = strings.TrimPrefix(strings.TrimSpace(c.Server.Port), ":")
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.Server.Port }
