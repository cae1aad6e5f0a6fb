package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/calendar"
	"github.com/pfrederiksen/eventfeeds/internal/config"
	"github.com/pfrederiksen/eventfeeds/internal/crypto"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/filter"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
	"github.com/pfrederiksen/eventfeeds/internal/metrics"
	"github.com/pfrederiksen/eventfeeds/internal/scheduler"
	"github.com/pfrederiksen/eventfeeds/internal/server"
	"github.com/spf13/cobra"
)

func newRefreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [feed...]",
		Short: "Refresh feeds now (all stored feeds when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			eng, err := a.engine(nil)
			if err != nil {
				return err
			}
			feeds, err := a.feeds(ctx, args)
			if err != nil {
				return err
			}

			report := newRefreshReport(eng.RefreshAll(ctx, feeds), opts.now())
			if a.format == FormatJSON {
				if err := writeJSON(opts.out, report); err != nil {
					return fmt.Errorf("writing output: %w", err)
				}
			} else {
				writeRefreshText(opts.out, report, opts.verbose)
			}

			if code := report.exitCode(); code != ExitSuccess {
				return &exitError{code: code}
			}
			return nil
		},
	}
}

func newInspectCmd(opts *options) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "inspect <feed>",
		Short: "Scrape a feed and print the result without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := feed.ParseMode(mode)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := a.store.GetFeed(ctx, args[0])
			if err != nil {
				return err
			}
			adapter, err := opts.resolve(f, a.cfg.ScraperConfig())
			if err != nil {
				return err
			}
			result, err := adapter.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", f.Name, err)
			}
			if opts.verbose {
				for _, failure := range result.Failures {
					fmt.Fprintf(opts.errOut, "Unreadable listing %s: %v\n", failure.OriginID, failure.Err)
				}
			}

			projected := feed.Project(result, m)
			if a.format == FormatJSON {
				return writeJSON(opts.out, projected)
			}
			writeListingsText(opts.out, projected)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(feed.ModeCanonical), "Projection: raw or canonical")
	return cmd
}

func newEventsCmd(opts *options) *cobra.Command {
	var (
		dateRange  string
		titles     []string
		locations  []string
		categories []string
		weekends   bool
		sortOrder  string
		ics        bool
	)
	cmd := &cobra.Command{
		Use:   "events <feed>",
		Short: "List the stored events of a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := parseSortOrder(sortOrder)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := a.store.GetFeed(ctx, args[0])
			if err != nil {
				return err
			}
			loc, err := time.LoadLocation(f.Zone())
			if err != nil {
				return fmt.Errorf("loading time zone: %w", err)
			}

			q := url.Values{"title": titles, "location": locations, "category": categories}
			if dateRange != "" {
				q.Set("range", dateRange)
			}
			if weekends {
				q.Set("weekends", "true")
			}
			flt, err := filter.FromQuery(q, opts.now(), loc)
			if err != nil {
				return err
			}

			events, err := a.store.ListEvents(ctx, f.ID)
			if err != nil {
				return err
			}
			events = flt.Apply(events)
			sortEvents(events, order)

			switch {
			case ics:
				return calendar.Write(opts.out, f.Name, events, opts.now())
			case a.format == FormatJSON:
				return writeJSON(opts.out, events)
			}
			if !flt.IsEmpty() {
				fmt.Fprintf(opts.out, "Filters: %s\n\n", flt)
			}
			writeEventsText(opts.out, events, loc, opts.verbose)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dateRange, "range", "", "Date range, e.g. 'Mar 1-15', 'March' or '2025-06-01..2025-06-30'")
	flags.StringSliceVar(&titles, "title", nil, "Title contains (repeatable)")
	flags.StringSliceVar(&locations, "location", nil, "Location contains (repeatable)")
	flags.StringSliceVar(&categories, "category", nil, "Category is (repeatable)")
	flags.BoolVar(&weekends, "weekends", false, "Only events starting on Saturday or Sunday")
	flags.StringVar(&sortOrder, "sort", string(SortByStart), "Sort by: start, title or origin")
	flags.BoolVar(&ics, "ics", false, "Write an iCalendar file instead")
	return cmd
}

func newFeedsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List stored feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			feeds, err := a.store.ListFeeds(cmd.Context())
			if err != nil {
				return err
			}
			if a.format == FormatJSON {
				return writeJSON(opts.out, feeds)
			}
			writeFeedsText(opts.out, feeds)
			return nil
		},
	}
}

func newRunsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <feed>",
		Short: "Show recent refresh runs of a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}
			ctx := cmd.Context()
			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := a.store.GetFeed(ctx, args[0])
			if err != nil {
				return err
			}
			runs, err := a.store.ListRuns(ctx, f.ID, limit)
			if err != nil {
				return err
			}
			if a.format == FormatJSON {
				return writeJSON(opts.out, runs)
			}
			writeRunsText(opts.out, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and refresh feeds on schedule",
		Long: `serve exposes stored events over HTTP and refreshes every configured
feed on the configured cron schedule. Edits to the config file are picked
up without a restart: feeds and the schedule are reloaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m := metrics.New()
			eng, err := a.engine(m)
			if err != nil {
				return err
			}
			feeds, err := a.seed(ctx, a.cfg)
			if err != nil {
				return err
			}

			sched := scheduler.New(ctx, eng)
			if err := sched.Reload(a.cfg.Refresh, feeds); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			if a.path != "" {
				go a.watch(ctx, sched)
			}

			addr := a.cfg.Listen
			if listen != "" {
				addr = listen
			}
			srv := server.New(server.Options{
				Store:   a.store,
				Engine:  eng,
				Metrics: m,
				Scrape:  a.cfg.ScraperConfig(),
				Now:     opts.now,
				Resolve: opts.resolve,
			})
			return srv.Run(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides the config")
	return cmd
}

// watch re-seeds feeds and reschedules them whenever the config file changes.
// Scrape settings and the log level keep their startup values.
func (a *app) watch(ctx context.Context, sched *scheduler.Scheduler) {
	err := config.Watch(ctx, a.path, func(cfg *config.Config) {
		feeds, err := a.seed(ctx, cfg)
		if err != nil {
			logger.Error("Reloading feeds failed", logger.Fields{"path": a.path}, err)
			return
		}
		if err := sched.Reload(cfg.Refresh, feeds); err != nil {
			logger.Error("Reloading schedule failed", logger.Fields{"path": a.path}, err)
		}
	})
	if err != nil {
		logger.Error("Config watcher stopped", logger.Fields{"path": a.path}, err)
	}
}

func newEncryptCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Seal a credential for the config file",
		Long: `encrypt seals a credential with the passphrase in $` + crypto.PassphraseEnv + `.
The printed "enc:..." value can replace the plain credential in the config
file. The value is read from standard input when not given as an argument.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := crypto.NewEncryptor(os.Getenv(crypto.PassphraseEnv))
			if enc == nil {
				return crypto.ErrNoPassphrase
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading value: %w", err)
				}
				value = strings.TrimRight(string(data), "\r\n")
			}
			if value == "" {
				return fmt.Errorf("nothing to encrypt")
			}

			sealed, err := enc.Seal(value)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.out, sealed)
			return nil
		},
	}
}
