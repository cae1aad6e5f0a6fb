package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
	"github.com/pfrederiksen/eventfeeds/internal/scraper"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDataDir        = "~/.local/share/eventfeeds"
	DefaultListen         = "127.0.0.1:8080"
	DefaultRefresh        = "*/30 * * * *"
	DefaultRefreshTimeout = 10 * time.Minute
)

// Duration is a time.Duration written as a string ("90s", "5m") in YAML
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Scrape tunes the upstream fetcher
type Scrape struct {
	UserAgent      string   `yaml:"user_agent"`
	Concurrency    int      `yaml:"concurrency"`
	RatePerSecond  *float64 `yaml:"rate_per_second,omitempty"` // 0 disables the limiter
	Burst          int      `yaml:"burst"`
	Retries        *int     `yaml:"retries,omitempty"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// Feed declares one upstream source
type Feed struct {
	Name     string `yaml:"name"`
	Adapter  string `yaml:"adapter"`
	Endpoint string `yaml:"endpoint"`
	Owner    string `yaml:"owner"`
	TimeZone string `yaml:"time_zone"`
}

// Twitter holds OAuth1 credentials for announcing new events
type Twitter struct {
	APIKey            string `yaml:"api_key"`
	APISecret         string `yaml:"api_secret"`
	AccessToken       string `yaml:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret"`
}

// Configured reports whether all four credentials are present
func (t *Twitter) Configured() bool {
	return t != nil && t.APIKey != "" && t.APISecret != "" && t.AccessToken != "" && t.AccessTokenSecret != ""
}

// Telegram names the bot and chat that receive new-event digests
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Configured reports whether both the token and the chat are present
func (t *Telegram) Configured() bool {
	return t != nil && t.BotToken != "" && t.ChatID != ""
}

// Notify selects how inserted events are announced.
// Credentials may be sealed with the crypto package.
type Notify struct {
	DryRun   bool      `yaml:"dry_run"`
	Twitter  *Twitter  `yaml:"twitter,omitempty"`
	Telegram *Telegram `yaml:"telegram,omitempty"`
}

// Secrets returns pointers to every credential so they can be opened in place
func (n *Notify) Secrets() []*string {
	var secrets []*string
	if n.Twitter != nil {
		secrets = append(secrets, &n.Twitter.APIKey, &n.Twitter.APISecret,
			&n.Twitter.AccessToken, &n.Twitter.AccessTokenSecret)
	}
	if n.Telegram != nil {
		secrets = append(secrets, &n.Telegram.BotToken)
	}
	return secrets
}

// Config is the top-level configuration
type Config struct {
	DataDir        string   `yaml:"data_dir"`
	Listen         string   `yaml:"listen"`
	LogLevel       string   `yaml:"log_level"`
	Refresh        string   `yaml:"refresh"`
	RefreshTimeout Duration `yaml:"refresh_timeout"`
	Scrape         Scrape   `yaml:"scrape"`
	Feeds          []Feed   `yaml:"feeds"`
	Notify         Notify   `yaml:"notify"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills unset values with defaults
func (c *Config) Normalize() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = string(logger.LevelInfo)
	}
	if c.Refresh == "" {
		c.Refresh = DefaultRefresh
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = Duration(DefaultRefreshTimeout)
	}

	defaults := scraper.DefaultConfig()
	if c.Scrape.UserAgent == "" {
		c.Scrape.UserAgent = defaults.UserAgent
	}
	if c.Scrape.Concurrency <= 0 {
		c.Scrape.Concurrency = defaults.Concurrency
	}
	if c.Scrape.RatePerSecond == nil {
		rps := defaults.RatePerSecond
		c.Scrape.RatePerSecond = &rps
	}
	if c.Scrape.Burst <= 0 {
		c.Scrape.Burst = defaults.Burst
	}
	if c.Scrape.Retries == nil {
		retries := defaults.Retries
		c.Scrape.Retries = &retries
	}
	if c.Scrape.RequestTimeout <= 0 {
		c.Scrape.RequestTimeout = Duration(defaults.RequestTimeout)
	}

	for i := range c.Feeds {
		f := &c.Feeds[i]
		f.Name = strings.TrimSpace(f.Name)
		f.Adapter = strings.ToLower(strings.TrimSpace(f.Adapter))
		if f.TimeZone == "" {
			f.TimeZone = feed.DefaultTimeZone
		}
	}
}

// Validate reports every problem in the configuration at once
func (c *Config) Validate() error {
	var errs []error

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.Refresh); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.Refresh, err))
	}
	if c.Scrape.RatePerSecond != nil && *c.Scrape.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("scrape.rate_per_second must not be negative"))
	}
	if c.Scrape.Retries != nil && *c.Scrape.Retries < 0 {
		errs = append(errs, fmt.Errorf("scrape.retries must not be negative"))
	}

	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("feeds[%d]: duplicate name %q", i, f.Name))
		}
		seen[f.Name] = true
		if err := f.Feed().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("feeds[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Feed converts the declaration into a feed.Feed without identity
func (f Feed) Feed() *feed.Feed {
	return &feed.Feed{
		Name:        f.Name,
		AdapterType: feed.Type(f.Adapter),
		Endpoint:    f.Endpoint,
		OwnerID:     f.Owner,
		TimeZone:    f.TimeZone,
	}
}

// ScraperConfig returns the fetcher settings
func (c *Config) ScraperConfig() scraper.Config {
	cfg := scraper.Config{
		UserAgent:      c.Scrape.UserAgent,
		Concurrency:    c.Scrape.Concurrency,
		Burst:          c.Scrape.Burst,
		RequestTimeout: time.Duration(c.Scrape.RequestTimeout),
	}
	if c.Scrape.RatePerSecond != nil {
		cfg.RatePerSecond = *c.Scrape.RatePerSecond
	}
	if c.Scrape.Retries != nil {
		cfg.Retries = *c.Scrape.Retries
	}
	return cfg
}

// Load reads, normalizes and validates the YAML file at path
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
