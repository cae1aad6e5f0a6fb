package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/config"
	"github.com/pfrederiksen/eventfeeds/internal/crypto"
	"github.com/pfrederiksen/eventfeeds/internal/engine"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
	"github.com/pfrederiksen/eventfeeds/internal/metrics"
	"github.com/pfrederiksen/eventfeeds/internal/notifier"
	"github.com/pfrederiksen/eventfeeds/internal/storage"
)

// app is the state shared by the commands that touch the store
type app struct {
	opts   *options
	cfg    *config.Config
	path   string // config file in use, empty for defaults
	store  *storage.Store
	format OutputFormat
}

// loadConfig reads --config, or the default file when it exists
func (o *options) loadConfig() (*config.Config, string, error) {
	if o.configPath != "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return nil, "", err
		}
		return cfg, o.configPath, nil
	}

	cfg, err := config.Load(DefaultConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return cfg, DefaultConfigFile, nil
}

// openApp loads the configuration, sets up logging, opens the store and
// seeds it with the configured feeds
func (o *options) openApp(ctx context.Context) (*app, error) {
	format, err := parseFormat(o.format)
	if err != nil {
		return nil, err
	}

	cfg, path, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	o.setupLogging(cfg)

	enc := crypto.NewEncryptor(os.Getenv(crypto.PassphraseEnv))
	if err := enc.OpenAll(cfg.Notify.Secrets()...); err != nil {
		return nil, fmt.Errorf("opening notify credentials: %w", err)
	}

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	a := &app{opts: o, cfg: cfg, path: path, store: store, format: format}

	if _, err := a.seed(ctx, cfg); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (o *options) setupLogging(cfg *config.Config) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logger.LevelInfo
	}
	if o.verbose {
		level = logger.LevelDebug
	}
	logger.SetDefault(logger.New(level, o.errOut))
}

func (a *app) Close() error {
	return a.store.Close()
}

// seed upserts the configured feeds by name and returns them with their
// stored identity
func (a *app) seed(ctx context.Context, cfg *config.Config) ([]*feed.Feed, error) {
	feeds := make([]*feed.Feed, 0, len(cfg.Feeds))
	for _, decl := range cfg.Feeds {
		f, err := a.store.UpsertFeed(ctx, decl.Feed())
		if err != nil {
			return nil, fmt.Errorf("seeding feeds: %w", err)
		}
		feeds = append(feeds, f)
	}
	if len(feeds) > 0 {
		logger.Debug("Feeds seeded", logger.Fields{"feeds": len(feeds)})
	}
	return feeds, nil
}

// feeds returns the named stored feeds, or all of them when names is empty
func (a *app) feeds(ctx context.Context, names []string) ([]*feed.Feed, error) {
	if len(names) == 0 {
		return a.store.ListFeeds(ctx)
	}
	feeds := make([]*feed.Feed, 0, len(names))
	for _, name := range names {
		f, err := a.store.GetFeed(ctx, name)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// notifier builds the announcers the config asks for, nil when none
func (a *app) notifier() (engine.Notifier, error) {
	n := a.cfg.Notify
	if n.DryRun {
		return notifier.NewDryRunNotifier(a.opts.errOut), nil
	}

	var all notifier.Multi
	if n.Twitter.Configured() {
		tw, err := notifier.NewTwitterNotifier(notifier.Credentials{
			APIKey:            n.Twitter.APIKey,
			APISecret:         n.Twitter.APISecret,
			AccessToken:       n.Twitter.AccessToken,
			AccessTokenSecret: n.Twitter.AccessTokenSecret,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, tw)
	}
	if n.Telegram.Configured() {
		tg, err := notifier.NewTelegramNotifier(n.Telegram.BotToken, n.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		all = append(all, tg)
	}

	switch len(all) {
	case 0:
		return nil, nil
	case 1:
		return all[0], nil
	}
	return all, nil
}

func (a *app) engine(m *metrics.Metrics) (*engine.Engine, error) {
	n, err := a.notifier()
	if err != nil {
		return nil, fmt.Errorf("initializing notifier: %w", err)
	}
	return engine.New(a.store, engine.Options{
		Scrape:   a.cfg.ScraperConfig(),
		Timeout:  time.Duration(a.cfg.RefreshTimeout),
		Metrics:  m,
		Notifier: n,
		Now:      a.opts.now,
		Resolve:  a.opts.resolve,
	}), nil
}
