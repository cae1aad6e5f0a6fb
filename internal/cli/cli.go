package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/scraper"
	"github.com/spf13/cobra"
)

const (
	ExitSuccess = 0
	ExitError   = 1
	ExitChanged = 2
)

// DefaultConfigFile is read when --config is not given and the file exists
const DefaultConfigFile = "eventfeeds.yaml"

// exitError carries a process exit code out of a command without
// printing anything further
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// options holds the global flags and the seams tests replace
type options struct {
	configPath string
	dataDir    string
	format     string
	verbose    bool

	out     io.Writer
	errOut  io.Writer
	now     func() time.Time
	resolve func(f *feed.Feed, cfg scraper.Config) (feed.Adapter, error)
}

func defaultOptions() *options {
	return &options{
		out:     os.Stdout,
		errOut:  os.Stderr,
		now:     time.Now,
		resolve: feed.Resolve,
	}
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultOptions())
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eventfeeds",
		Short: "Mirror upstream event listings into a local event store",
		Long: `eventfeeds scrapes event listing sites, keeps a local copy of their
events in sync and serves it as JSON and iCalendar.

A refresh exits with status 2 when stored events changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(opts.out)
	cmd.SetErr(opts.errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default ./"+DefaultConfigFile+" when present)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Data directory, overrides the config")
	flags.StringVar(&opts.format, "format", "text", "Output format: text or json")
	flags.BoolVar(&opts.verbose, "verbose", false, "Enable verbose output and debug logging")

	cmd.AddCommand(
		newRefreshCmd(opts),
		newInspectCmd(opts),
		newEventsCmd(opts),
		newFeedsCmd(opts),
		newRunsCmd(opts),
		newServeCmd(opts),
		newEncryptCmd(opts),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	return run(NewRootCmd(), os.Stderr)
}

func run(cmd *cobra.Command, errOut io.Writer) int {
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(errOut, "Error: %v\n", err)
	return ExitError
}
