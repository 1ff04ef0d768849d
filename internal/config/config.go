package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"github.com/sizzlei/confloader"
)

// ServerConfig holds the HTTP listener and view locations.
type ServerConfig struct {
	Port      string `toml:"port"`
	ViewsDir  string `toml:"viewsDir"`
	PublicDir string `toml:"publicDir"`
	// BodyLimitMB caps multipart uploads.
	BodyLimitMB int `toml:"bodyLimitMB"`
}

// RepositoryConfig selects the notice store. Driver is "mysql" or "memory".
type RepositoryConfig struct {
	Driver   string `toml:"driver"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Endpoint string `toml:"endpoint"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
}

// SchedulerConfig sets how often the activation and expiry scans run.
type SchedulerConfig struct {
	IntervalSeconds int `toml:"intervalSeconds"`
}

// NoticeConfig carries the closed department set and the civil-time rules
// used when parsing admin forms.
type NoticeConfig struct {
	Departments       []string `toml:"departments"`
	AllowedExtensions []string `toml:"allowedExtensions"`
	DefaultTTLDays    int      `toml:"defaultTTLDays"`
	UTCOffset         string   `toml:"utcOffset"`
	TimestampFormat   string   `toml:"timestampFormat"`
}

// StorageConfig selects the asset backend. Backend is "local" or "s3".
type StorageConfig struct {
	Backend   string `toml:"backend"`
	Dir       string `toml:"dir"`
	RenderDPI int    `toml:"renderDPI"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	URL       string `toml:"url"`
	AccessKey string `toml:"accessKey"`
	SecretKey string `toml:"secretKey"`
}

// RedisConfig enables the cross-instance broadcast relay when Addr is set.
type RedisConfig struct {
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	ChannelPrefix string `toml:"channelPrefix"`
}

// LogConfig sets the log level and optional rotated log file.
type LogConfig struct {
	Level      string `toml:"level"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays"`
}

// SessionConfig configures the flash-message session cookie.
type SessionConfig struct {
	Table             string `toml:"table"`
	CookieName        string `toml:"cookieName"`
	ExpirationMinutes int    `toml:"expirationMinutes"`
}

// Config is the whole service configuration, one section per TOML table.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Repository RepositoryConfig `toml:"repository"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Notice     NoticeConfig     `toml:"notice"`
	Storage    StorageConfig    `toml:"storage"`
	Redis      RedisConfig      `toml:"redis"`
	Log        LogConfig        `toml:"log"`
	Session    SessionConfig    `toml:"session"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "5000",
			ViewsDir:    "./web/views",
			PublicDir:   "./web/public",
			BodyLimitMB: 1024,
		},
		Repository: RepositoryConfig{
			Driver: "mysql",
			Port:   3306,
		},
		Scheduler: SchedulerConfig{IntervalSeconds: 10},
		Notice: NoticeConfig{
			Departments:       []string{"extc", "it", "mech", "cs"},
			AllowedExtensions: []string{"png", "jpg", "jpeg", "gif", "mp4", "mp3", "pdf", "docx", "xlsx"},
			DefaultTTLDays:    30,
			UTCOffset:         "+05:30",
			TimestampFormat:   "2006-01-02 15:04:05",
		},
		Storage: StorageConfig{
			Backend:   "local",
			Dir:       "uploads/",
			RenderDPI: 200,
		},
		Redis: RedisConfig{ChannelPrefix: "noticeboard:dept:"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
		Session: SessionConfig{
			Table:             "fiber_sessions",
			CookieName:        "noticeboard_session",
			ExpirationMinutes: 30,
		},
	}
}

// Load reads path on top of Default. A missing file is not an error so the
// service can run on defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		} else {
			log.Warnf("config file %s not found, using defaults", path)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRepositoryParams overlays the "repository" key from AWS Parameter Store.
func (c *Config) LoadRepositoryParams(region, paramPath string) error {
	params, err := confloader.AWSParamLoader(region, paramPath)
	if err != nil {
		return fmt.Errorf("load parameter store %s: %w", paramPath, err)
	}
	repo := params.Keyload("repository")
	if v, ok := repo["User"].(string); ok {
		c.Repository.User = v
	}
	if v, ok := repo["Password"].(string); ok {
		c.Repository.Password = v
	}
	if v, ok := repo["Endpoint"].(string); ok {
		c.Repository.Endpoint = v
	}
	if v, ok := repo["Port"].(int); ok {
		c.Repository.Port = v
	}
	if v, ok := repo["Database"].(string); ok {
		c.Repository.Database = v
	}
	return nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
}

func (c *Config) normalize() {
	depts := make([]string, 0, len(c.Notice.Departments))
	for _, d := range c.Notice.Departments {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			depts = append(depts, d)
		}
	}
	c.Notice.Departments = depts

	exts := make([]string, 0, len(c.Notice.AllowedExtensions))
	for _, e := range c.Notice.AllowedExtensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts = append(exts, e)
		}
	}
	c.Notice.AllowedExtensions = exts
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Repository.Driver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("unknown repository driver %q", c.Repository.Driver)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the local backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if len(c.Notice.Departments) == 0 {
		return fmt.Errorf("notice.departments must not be empty")
	}
	if c.Notice.DefaultTTLDays <= 0 {
		return fmt.Errorf("notice.defaultTTLDays must be positive")
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.intervalSeconds must be positive")
	}
	if _, err := c.Notice.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the fixed-offset civil zone admin forms are entered in.
func (n NoticeConfig) Location() (*time.Location, error) {
	return ParseOffset(n.UTCOffset)
}

// ParseOffset turns "+05:30" style offsets into a fixed zone.
func ParseOffset(offset string) (*time.Location, error) {
	t, err := time.Parse("-07:00", offset)
	if err != nil {
		return nil, fmt.Errorf("invalid utc offset %q: %w", offset, err)
	}
	_, secs := t.Zone()
	return time.FixedZone("UTC"+offset, secs), nil
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (n NoticeConfig) DefaultTTL() time.Duration {
	return time.Duration(n.DefaultTTLDays) * 24 * time.Hour
}

func (s SessionConfig) Expiration() time.Duration {
	return time.Duration(s.ExpirationMinutes) * time.Minute
}
