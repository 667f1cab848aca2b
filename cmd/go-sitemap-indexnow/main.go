package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	gositemapindexnow "github.com/kotylevskiy/go-sitemap-indexnow"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const defaultStorageDir = "sitemap_data"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dir      string
		logLevel string
	)

	root := &cobra.Command{
		Use:          "go-sitemap-indexnow",
		Short:        "Submit new and changed sitemap URLs to IndexNow",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFlagSyntax(cmd.Flags(), os.Args[1:])
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&dir, "dir", defaultStorageDir, "Storage directory for settings, snapshots and history")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	newLogger := func() (*slog.Logger, error) {
		level, err := resolveLogLevel(logLevel)
		if err != nil {
			return nil, err
		}
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	}

	root.AddCommand(
		newRunCmd(&dir, newLogger),
		newHistoryCmd(&dir),
		newVerifyKeyCmd(&dir, newLogger),
		newInitCmd(&dir),
	)
	return root
}

func newRunCmd(dir *string, newLogger func() (*slog.Logger, error)) *cobra.Command {
	var (
		batchSize     int
		delay         time.Duration
		timeout       time.Duration
		submitTimeout time.Duration
		keep          int
		maxHistory    int
		auditDB       string
		respectRobots bool
		dryRun        bool
		userAgent     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Detect sitemap changes and notify IndexNow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lock, err := gositemapindexnow.AcquireRunLock(*dir)
			if err != nil {
				return err
			}
			defer lock.Release()

			settings, err := loadSettings(*dir, logger)
			if err != nil {
				return err
			}
			logger.Info("settings loaded", "host", settings.Host, "sitemap", settings.SitemapURL)

			fetcher := gositemapindexnow.NewFetcher(gositemapindexnow.FetcherOptions{
				UserAgent:         userAgent,
				PerRequestTimeout: timeout,
				RespectRobots:     respectRobots,
				Logger:            logger,
			})
			sitemapURL, err := fetcher.ResolveSitemapURL(ctx, settings.SitemapURL)
			if err != nil {
				return err
			}
			if sitemapURL != settings.SitemapURL {
				logger.Info("sitemap discovered from site root", "site", settings.SitemapURL, "sitemap", sitemapURL)
			}

			var audit gositemapindexnow.AuditRecorder
			if auditDB != "" {
				store, err := gositemapindexnow.OpenAuditStore(ctx, auditDB)
				if err != nil {
					return err
				}
				defer store.Close()
				audit = store
			}

			runner := gositemapindexnow.NewRunner(gositemapindexnow.RunnerOptions{
				SitemapURL: sitemapURL,
				Source:     fetcher,
				Snapshots:  gositemapindexnow.NewSnapshotStore(*dir, gositemapindexnow.SnapshotStoreOptions{Logger: logger}),
				Notifier: gositemapindexnow.NewSubmitter(gositemapindexnow.SubmitterOptions{
					Endpoint:       settings.EndpointOrDefault(),
					Host:           settings.Host,
					Key:            settings.Key,
					BatchSize:      batchSize,
					Delay:          delay,
					RequestTimeout: submitTimeout,
					UserAgent:      userAgent,
					Logger:         logger,
				}),
				History: gositemapindexnow.NewHistoryLog(filepath.Join(*dir, gositemapindexnow.HistoryFile),
					gositemapindexnow.HistoryLogOptions{MaxHistory: maxHistory, Logger: logger}),
				Audit:     audit,
				KeepCount: keep,
				DryRun:    dryRun,
				Logger:    logger,
			})

			result, err := runner.Run(ctx)
			if err != nil {
				return fmt.Errorf("run aborted (%s failure): %w", gositemapindexnow.KindOf(err), err)
			}
			if !result.OK {
				return runFailure(result)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&batchSize, "batch-size", gositemapindexnow.DefaultBatchSize, "URLs per IndexNow request")
	flags.DurationVar(&delay, "delay", time.Second, "Pause after each batch (negative disables)")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "Sitemap fetch timeout")
	flags.DurationVar(&submitTimeout, "submit-timeout", 30*time.Second, "Timeout of each IndexNow request")
	flags.IntVar(&keep, "keep", gositemapindexnow.DefaultKeepCount, "Number of snapshots to keep")
	flags.IntVar(&maxHistory, "max-history", gositemapindexnow.DefaultMaxHistory, "Number of history entries to keep")
	flags.StringVar(&auditDB, "audit-db", "", "SQLite database recording every run (optional)")
	flags.BoolVar(&respectRobots, "respect-robots", false, "Refuse to fetch a sitemap disallowed by robots.txt")
	flags.BoolVar(&dryRun, "dry-run", false, "Detect and log changes without submitting or saving state")
	flags.StringVar(&userAgent, "user-agent", "", "User-Agent for HTTP requests")
	return cmd
}

func newHistoryCmd(dir *string) *cobra.Command {
	var (
		auditDB string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the submission history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if auditDB != "" {
				store, err := gositemapindexnow.OpenAuditStore(cmd.Context(), auditDB)
				if err != nil {
					return err
				}
				defer store.Close()
				runs, err := store.RecentRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, run := range runs {
					fmt.Fprintf(out, "%s  %s  %-13s new=%d changed=%d deleted=%d batches=%d failed=%d ok=%t\n",
						run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.ID, run.Outcome,
						run.New, run.Changed, run.Deleted, run.Batches, run.FailedBatches, run.OK)
				}
				return nil
			}

			history := gositemapindexnow.NewHistoryLog(filepath.Join(*dir, gositemapindexnow.HistoryFile),
				gositemapindexnow.HistoryLogOptions{})
			entries, err := history.Entries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "no history yet")
				return nil
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			for i, entry := range entries {
				if i > 0 {
					fmt.Fprintln(out, strings.Repeat("-", 50))
				}
				fmt.Fprintln(out, entry)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&auditDB, "audit-db", "", "Read runs from this SQLite audit database instead")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the most recent entries (0 = all)")
	return cmd
}

func newVerifyKeyCmd(dir *string, newLogger func() (*slog.Logger, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-key",
		Short: "Check that the IndexNow key file is served by the host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			settings, err := loadSettings(*dir, logger)
			if err != nil {
				return err
			}
			fetcher := gositemapindexnow.NewFetcher(gositemapindexnow.FetcherOptions{Logger: logger})
			location := gositemapindexnow.KeyLocation(settings.Host, settings.Key)
			if err := fetcher.VerifyKey(cmd.Context(), settings.Host, settings.Key); err != nil {
				return fmt.Errorf("key verification failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key file OK: %s\n", location)
			return nil
		},
	}
}

func newInitCmd(dir *string) *cobra.Command {
	var settings gositemapindexnow.Settings

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := gositemapindexnow.DefaultSettings()
			if settings.SitemapURL == "" {
				settings.SitemapURL = defaults.SitemapURL
			}
			if settings.Host == "" {
				settings.Host = defaults.Host
			}
			if settings.Key == "" {
				settings.Key = defaults.Key
			}
			if err := gositemapindexnow.WriteSettings(*dir, settings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "settings written to %s\n",
				filepath.Join(*dir, gositemapindexnow.SettingsFile))
			if settings.IsPlaceholder() {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: placeholder values are still in effect, edit the file before running")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&settings.SitemapURL, "sitemap-url", "", "Sitemap URL (or site root to discover it)")
	flags.StringVar(&settings.Host, "host", "", "Site host name")
	flags.StringVar(&settings.Key, "key", "", "IndexNow key")
	flags.StringVar(&settings.Endpoint, "endpoint", "", "IndexNow endpoint (default "+gositemapindexnow.DefaultEndpoint+")")
	return cmd
}

func loadSettings(dir string, logger *slog.Logger) (gositemapindexnow.Settings, error) {
	settings, usedDefaults, err := gositemapindexnow.LoadSettings(dir)
	if err != nil {
		logger.Warn("cannot load settings, falling back to defaults", "error", err)
	}
	if usedDefaults || settings.IsPlaceholder() {
		logger.Warn("placeholder settings are in effect, edit the settings file",
			"path", filepath.Join(dir, gositemapindexnow.SettingsFile))
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// checkFlagSyntax rejects single-dash flags. The argument following a
// value-taking --flag is its value and may start with a dash (--delay -1s).
func checkFlagSyntax(flags *pflag.FlagSet, args []string) error {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return nil
		}
		if name, ok := strings.CutPrefix(arg, "--"); ok {
			if strings.Contains(name, "=") {
				continue
			}
			if flag := flags.Lookup(name); flag != nil && flag.NoOptDefVal == "" {
				i++
			}
			continue
		}
		if strings.HasPrefix(arg, "-") && arg != "-h" {
			return fmt.Errorf("invalid flag %q (use --)", arg)
		}
	}
	return nil
}

func runFailure(result *gositemapindexnow.RunResult) error {
	var kinds []string
	seen := map[gositemapindexnow.Kind]bool{}
	for _, err := range result.Errors {
		kind := gositemapindexnow.KindOf(err)
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind.String())
		}
	}
	return fmt.Errorf("run %s finished with failures (%s): %d/%d batches accepted",
		result.RunID, strings.Join(kinds, ", "), result.Report.Succeeded, result.Report.Batches)
}

func resolveLogLevel(flagValue string) (slog.Level, error) {
	value := strings.TrimSpace(flagValue)
	if value == "" {
		value = strings.TrimSpace(os.Getenv("GO_SITEMAP_INDEXNOW_LOG_LEVEL"))
	}
	if value == "" {
		return slog.LevelInfo, nil
	}
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (use debug, info, warn, error)", value)
	}
}
