package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tphakala/go-secops"
	"github.com/tphakala/go-secops/internal/config"
	"github.com/tphakala/go-secops/internal/logging"
)

const (
	outputText = "text"
	outputJSON = "json"
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	overrides  config.Config
	output     string

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
	client   *secops.Client
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{out: stdout, errOut: stderr}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return newApp(stdout, stderr).rootCmd()
}

// execute runs the command line args and releases the log file whether or
// not the command succeeded.
func (a *app) execute(ctx context.Context, args []string) error {
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, a.closeLogs())
}

func (a *app) closeLogs() error {
	if a.closeLog == nil {
		return nil
	}
	closeLog := a.closeLog
	a.closeLog = nil
	if err := closeLog(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	return nil
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "secops",
		Short: "Google Security Operations command-line client",
		Long: `secops runs UDM searches, entity lookups, ingestion and Gemini
queries against a Google Security Operations instance.

Settings are read from --config (YAML), a .env file, SECOPS_* environment
variables and flags, in increasing priority:
  SECOPS_CUSTOMER_ID   Instance customer ID
  SECOPS_PROJECT_ID    Google Cloud project ID
  SECOPS_REGION        Instance region (default: us)
  SECOPS_TOKEN         OAuth2 access token`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsClient(cmd) {
				return nil
			}
			return a.setup(cmd.Flags())
		},
	}

	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&a.overrides.CustomerID, "customer-id", "", "Instance customer ID")
	flags.StringVar(&a.overrides.ProjectID, "project-id", "", "Google Cloud project ID")
	flags.StringVar(&a.overrides.Region, "region", "", "Instance region")
	flags.StringVar(&a.overrides.Token, "token", "", "OAuth2 access token")
	flags.StringVar(&a.overrides.BaseURL, "base-url", "", "Override the regional API endpoint")
	flags.StringVar(&a.overrides.Log.Level, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.overrides.Log.File, "log-file", "", "Write logs to this file instead of stderr")
	flags.StringVarP(&a.output, "output", "o", outputText, "Output format: text or json")
	_ = flags.MarkHidden("base-url")

	rootCmd.AddCommand(
		a.searchCmd(),
		a.statsCmd(),
		a.csvCmd(),
		a.validateCmd(),
		a.iocsCmd(),
		a.entityCmd(),
		a.ingestLogCmd(),
		a.ingestUDMCmd(),
		a.logTypesCmd(),
		a.translateCmd(),
		a.nlSearchCmd(),
		a.askCmd(),
	)

	return rootCmd
}

// needsClient reports whether cmd talks to the API. Help and shell
// completion must work without credentials.
func needsClient(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

// setup resolves settings and builds the logger and API client.
func (a *app) setup(flags *pflag.FlagSet) error {
	if a.output != outputText && a.output != outputJSON {
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, &a.overrides, flags)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	logCfg.FilePath = cfg.Log.File
	logger, closeLog, err := logging.New(logCfg, a.errOut)
	if err != nil {
		return err
	}
	a.logger, a.closeLog = logger, closeLog

	opts := []secops.ClientOption{
		secops.WithInstance(cfg.CustomerID, cfg.ProjectID, cfg.Region),
		secops.WithAccessToken(cfg.Token),
		secops.WithTimeout(cfg.Timeout),
		secops.WithPollInterval(cfg.PollInterval),
		secops.WithMaxPollAttempts(cfg.MaxPollAttempts),
		secops.WithLogger(logger),
		secops.WithUserAgent("secops-cli/" + version),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, secops.WithBaseURL(cfg.BaseURL))
	}

	a.client, err = secops.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	logger.Debug("client ready",
		slog.String("instance", a.client.InstanceID()),
		slog.String("base_url", a.client.BaseURL()),
	)
	return nil
}

// applyOverrides copies explicitly set flags over the loaded settings.
func applyOverrides(cfg, o *config.Config, flags *pflag.FlagSet) {
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("customer-id", &cfg.CustomerID, o.CustomerID)
	set("project-id", &cfg.ProjectID, o.ProjectID)
	set("region", &cfg.Region, o.Region)
	set("token", &cfg.Token, o.Token)
	set("base-url", &cfg.BaseURL, o.BaseURL)
	set("log-level", &cfg.Log.Level, o.Log.Level)
	set("log-file", &cfg.Log.File, o.Log.File)
}

// timeRange holds the --hours/--start/--end flags of a command.
type timeRange struct {
	hours int
	start string
	end   string
}

func (tr *timeRange) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&tr.hours, "hours", 24, "Search the last N hours (ignored when --start is set)")
	cmd.Flags().StringVar(&tr.start, "start", "", "Start time (RFC3339)")
	cmd.Flags().StringVar(&tr.end, "end", "", "End time (RFC3339, default now)")
}

// resolve returns the [start, end) window relative to now.
func (tr *timeRange) resolve(now time.Time) (time.Time, time.Time, error) {
	end := now.UTC()
	if tr.end != "" {
		t, err := time.Parse(time.RFC3339, tr.end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
		end = t
	}

	if tr.start != "" {
		start, err := time.Parse(time.RFC3339, tr.start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
		if !end.After(start) {
			return time.Time{}, time.Time{}, errors.New("--end must be after --start")
		}
		return start, end, nil
	}

	if tr.hours <= 0 {
		return time.Time{}, time.Time{}, errors.New("--hours must be positive")
	}
	return end.Add(-time.Duration(tr.hours) * time.Hour), end, nil
}

// printJSON writes v as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit prints v as JSON or runs the text renderer.
func (a *app) emit(v any, text func(w io.Writer) error) error {
	if a.output == outputJSON {
		return a.printJSON(v)
	}
	return text(a.out)
}
