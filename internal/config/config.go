package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"sourceMonitor/internal/core/domain"
)

const (
	DefaultIntervalHours  = 6
	DefaultStalenessDays  = 365
	DefaultStorageBackend = "sqlite"
	DefaultDBPath         = "./data/monitor_state.db"
	DefaultSMTPPort       = 587
	DefaultMaxConcurrency = 8
	DefaultHostRPS        = 2.0
	DefaultHostBurst      = 2
	DefaultHostInFlight   = 2
	DefaultDedupWindow    = 24 * time.Hour
	DefaultHTTPAddr       = ":8080"
)

// Config is the whole monitor configuration.
type Config struct {
	Sources  []SourceConfig `yaml:"sources"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Storage  StorageConfig  `yaml:"storage"`
	Fetch    FetchConfig    `yaml:"fetch"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Lookup   LookupConfig   `yaml:"lookup"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	HTTP     HTTPConfig     `yaml:"http"`

	// ReportsDir, when set, archives an HTML diff report for every content
	// change found by a deep diff.
	ReportsDir string `yaml:"reports_dir"`
	// MetricsTextfile, when set, is rewritten with Prometheus metrics after
	// every cycle.
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// SourceConfig is one monitored site. Pages are resolved against BaseURL;
// URL adds a single absolute page.
type SourceConfig struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	BaseURL         string   `yaml:"base_url"`
	Pages           []string `yaml:"pages"`
	URL             string   `yaml:"url"`
	ExpectedMarkers []string `yaml:"expected_markers"`
	StalenessDays   int      `yaml:"staleness_days"`
	PaywallMarkers  []string `yaml:"paywall_markers"`
}

type ScheduleConfig struct {
	IntervalHours int  `yaml:"interval_hours"`
	DeepDiff      bool `yaml:"deep_diff"`
	RunOnStart    bool `yaml:"run_on_start"`
}

// Interval returns the schedule interval as a duration.
func (s ScheduleConfig) Interval() time.Duration {
	return time.Duration(s.IntervalHours) * time.Hour
}

type StorageConfig struct {
	// Backend is "sqlite" or "json".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type FetchConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	Backoff         time.Duration `yaml:"backoff"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	UserAgent       string        `yaml:"user_agent"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	HostRPS         float64       `yaml:"host_rps"`
	HostBurst       int           `yaml:"host_burst"`
	HostConcurrency int           `yaml:"host_concurrency"`
}

// SMTPConfig configures the digest transport. The password is never stored
// in the file: it comes from PasswordEnv, or SMTP_PASSWORD when unset.
type SMTPConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
}

// Password resolves the SMTP password from the environment.
func (s SMTPConfig) Password() string {
	if s.PasswordEnv != "" {
		return os.Getenv(s.PasswordEnv)
	}
	return os.Getenv("SMTP_PASSWORD")
}

type LookupConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Engine    string        `yaml:"engine"`
	Country   string        `yaml:"country"`
	Timeout   time.Duration `yaml:"timeout"`
}

// APIKey resolves the lookup key from the environment. An empty key
// disables the lookup.
func (l LookupConfig) APIKey() string {
	if l.APIKeyEnv != "" {
		return os.Getenv(l.APIKeyEnv)
	}
	if k := os.Getenv("LOOKUP_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("BRIGHT_DATA_API_KEY")
}

type AlertsConfig struct {
	DedupWindow time.Duration `yaml:"dedup_window"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML (or JSON) file at path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Name == "" {
			src.Name = src.ID
		}
		if src.StalenessDays == 0 {
			src.StalenessDays = DefaultStalenessDays
		}
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Schedule: ScheduleConfig{IntervalHours: DefaultIntervalHours},
		Storage:  StorageConfig{Backend: DefaultStorageBackend, Path: DefaultDBPath},
		Fetch: FetchConfig{
			MaxConcurrency:  DefaultMaxConcurrency,
			HostRPS:         DefaultHostRPS,
			HostBurst:       DefaultHostBurst,
			HostConcurrency: DefaultHostInFlight,
		},
		SMTP:   SMTPConfig{Port: DefaultSMTPPort},
		Alerts: AlertsConfig{DedupWindow: DefaultDedupWindow},
		HTTP:   HTTPConfig{Addr: DefaultHTTPAddr},
	}
}

func getEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func getEnvInt(key string, dst *int) error {
	v, ok := getEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, v)
	}
	*dst = n
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := getEnv("MONITOR_DB_PATH"); ok {
		cfg.Storage.Path = v
	}
	if err := getEnvInt("MONITOR_SCHEDULE_HOURS", &cfg.Schedule.IntervalHours); err != nil {
		return err
	}
	if v, ok := getEnv("SMTP_HOST"); ok {
		cfg.SMTP.Host = v
	}
	if err := getEnvInt("SMTP_PORT", &cfg.SMTP.Port); err != nil {
		return err
	}
	if v, ok := getEnv("SMTP_USER"); ok {
		cfg.SMTP.Username = v
	}
	if v, ok := getEnv("ALERT_RECIPIENT"); ok {
		cfg.SMTP.To = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	seen := make(map[string]bool, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if err := validateSource(src); err != nil {
			return fmt.Errorf("sources[%d] %q: %w", i, src.ID, err)
		}
	}

	if cfg.Schedule.IntervalHours <= 0 {
		return fmt.Errorf("schedule.interval_hours must be positive")
	}
	switch cfg.Storage.Backend {
	case "sqlite", "json":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if cfg.Fetch.MaxConcurrency <= 0 {
		return fmt.Errorf("fetch.max_concurrency must be positive")
	}
	if cfg.Fetch.Timeout < 0 || cfg.Fetch.Backoff < 0 {
		return fmt.Errorf("fetch.timeout and fetch.backoff must not be negative")
	}
	if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port: %d is out of range", cfg.SMTP.Port)
	}
	if cfg.SMTP.Host != "" && len(cfg.SMTP.To) == 0 {
		return fmt.Errorf("smtp.to: at least one recipient is required when smtp.host is set")
	}
	if cfg.Alerts.DedupWindow <= 0 {
		return fmt.Errorf("alerts.dedup_window must be positive")
	}
	return nil
}

func validateSource(src SourceConfig) error {
	if src.URL == "" && len(src.Pages) == 0 {
		return fmt.Errorf("no pages configured")
	}
	if len(src.Pages) > 0 {
		if err := absolute(src.BaseURL); err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		for _, p := range src.Pages {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("pages: empty page path")
			}
			if _, err := url.Parse(strings.TrimSpace(p)); err != nil {
				return fmt.Errorf("pages: %w", err)
			}
		}
	}
	if src.URL != "" {
		if err := absolute(src.URL); err != nil {
			return fmt.Errorf("url: %w", err)
		}
	}
	if src.StalenessDays < 0 {
		return fmt.Errorf("staleness_days must be positive")
	}
	if len(src.ExpectedMarkers) == 0 {
		return fmt.Errorf("expected_markers: at least one selector is required")
	}
	for _, sel := range src.ExpectedMarkers {
		if _, err := cascadia.Compile(sel); err != nil {
			return fmt.Errorf("expected_markers: invalid selector %q: %w", sel, err)
		}
	}
	return nil
}

func absolute(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return nil
}

// Targets expands every source into one CheckTarget per page, in file
// order. The returned slice is fresh on every call.
func (c *Config) Targets() []domain.CheckTarget {
	var out []domain.CheckTarget
	for _, src := range c.Sources {
		for _, u := range src.pageURLs() {
			out = append(out, domain.CheckTarget{
				SourceID:        src.ID,
				SourceName:      src.Name,
				URL:             u,
				ExpectedMarkers: append([]string(nil), src.ExpectedMarkers...),
				StalenessDays:   src.StalenessDays,
				PaywallMarkers:  append([]string(nil), src.PaywallMarkers...),
			})
		}
	}
	return out
}

func (s SourceConfig) pageURLs() []string {
	var urls []string
	if s.URL != "" {
		urls = append(urls, s.URL)
	}
	if len(s.Pages) == 0 {
		return urls
	}
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return urls
	}
	for _, p := range s.Pages {
		ref, err := url.Parse(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		urls = append(urls, base.ResolveReference(ref).String())
	}
	return urls
}
