package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration of the retrieval client.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	FTP     FTPConfig     `yaml:"ftp"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Limits  LimitsConfig  `yaml:"limits"`
	Output  OutputConfig  `yaml:"output"`
	Recur   RecurConfig   `yaml:"recur"`
	Robots  RobotsConfig  `yaml:"robots"`
	DB      SQLConfig     `yaml:"db"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig controls the request-scheme protocol loop.
type HTTPConfig struct {
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
	Referer   string            `yaml:"referer"`
	Timeout   Duration          `yaml:"timeout"`
}

// FTPConfig controls the file-transfer protocol loop.
type FTPConfig struct {
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	Timeout  Duration `yaml:"timeout"`
}

// ProxyConfig names per-scheme proxy URLs and hosts reached directly.
type ProxyConfig struct {
	HTTP    string   `yaml:"http"`
	HTTPS   string   `yaml:"https"`
	FTP     string   `yaml:"ftp"`
	NoProxy []string `yaml:"no_proxy"`
}

// LimitsConfig bounds the run: total download quota, attempts per URL, and
// the waits applied between retrievals.
type LimitsConfig struct {
	Quota     ByteSize `yaml:"quota"`
	Tries     int      `yaml:"tries"`
	Wait      Duration `yaml:"wait"`
	WaitRetry Duration `yaml:"wait_retry"`
}

// OutputConfig controls where and how fetched files land on disk.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Continue    bool   `yaml:"continue"`
	DeleteAfter bool   `yaml:"delete_after"`
	Progress    bool   `yaml:"progress"`
}

// RecurConfig tunes recursive expansion of fetched HTML pages.
type RecurConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxDepth        int      `yaml:"max_depth"`
	FollowExternal  bool     `yaml:"follow_external"`
	MaxLinksPerPage int      `yaml:"max_links_per_page"`
	PerHostDelay    Duration `yaml:"per_host_delay"`
}

// RobotsConfig configures robots.txt handling during recursive expansion.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// SQLConfig describes the optional relational manifest of downloaded files.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			UserAgent: "wget-go/1.0",
			Headers:   map[string]string{},
			Timeout:   DurationFrom(30 * time.Second),
		},
		FTP: FTPConfig{
			User:     "anonymous",
			Password: "anonymous@",
			Timeout:  DurationFrom(30 * time.Second),
		},
		Limits: LimitsConfig{
			Tries: 3,
		},
		Output: OutputConfig{
			Dir:      ".",
			Progress: true,
		},
		Recur: RecurConfig{
			Enabled:         false,
			MaxDepth:        5,
			MaxLinksPerPage: 200,
			PerHostDelay:    DurationFrom(250 * time.Millisecond),
		},
		Robots: RobotsConfig{
			Respect:   true,
			UserAgent: "wget-go/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants for the retrieval client.
func (c Config) Validate() error {
	if c.Limits.Tries <= 0 {
		return fmt.Errorf("limits.tries must be > 0 (got %d)", c.Limits.Tries)
	}
	if c.Limits.Wait.Duration < 0 {
		return errors.New("limits.wait must not be negative")
	}
	if c.Limits.WaitRetry.Duration < 0 {
		return errors.New("limits.wait_retry must not be negative")
	}
	if strings.TrimSpace(c.HTTP.UserAgent) == "" {
		return errors.New("http.user_agent must be set")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return errors.New("output.dir must be set")
	}
	if c.Recur.Enabled {
		if c.Recur.MaxDepth <= 0 {
			return fmt.Errorf("recur.max_depth must be > 0 (got %d)", c.Recur.MaxDepth)
		}
		if c.Recur.MaxLinksPerPage <= 0 {
			return fmt.Errorf("recur.max_links_per_page must be > 0 (got %d)", c.Recur.MaxLinksPerPage)
		}
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set")
	}
	if (c.DB.Driver == "") != (c.DB.DSN == "") {
		return errors.New("db.driver and db.dsn must be set together")
	}
	return nil
}

func (c *Config) normalise() {
	c.HTTP.UserAgent = strings.TrimSpace(c.HTTP.UserAgent)
	c.HTTP.Referer = strings.TrimSpace(c.HTTP.Referer)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Output.Dir = strings.TrimSpace(c.Output.Dir)
	if c.HTTP.Headers == nil {
		c.HTTP.Headers = map[string]string{}
	}
	c.Proxy.HTTP = strings.TrimSpace(c.Proxy.HTTP)
	c.Proxy.HTTPS = strings.TrimSpace(c.Proxy.HTTPS)
	c.Proxy.FTP = strings.TrimSpace(c.Proxy.FTP)
	if len(c.Proxy.NoProxy) > 0 {
		c.Proxy.NoProxy = dedupeLower(c.Proxy.NoProxy)
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
