package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yuya-takeyama/sumcompare/internal/backup"
	"github.com/yuya-takeyama/sumcompare/internal/checksum"
	"github.com/yuya-takeyama/sumcompare/internal/config"
	"github.com/yuya-takeyama/sumcompare/internal/errors"
	"github.com/yuya-takeyama/sumcompare/internal/logging"
	"github.com/yuya-takeyama/sumcompare/internal/media"
	"github.com/yuya-takeyama/sumcompare/internal/report"
	"github.com/yuya-takeyama/sumcompare/internal/s3client"
	"github.com/yuya-takeyama/sumcompare/pkg/logger"
	"github.com/yuya-takeyama/sumcompare/pkg/resolver"
	"github.com/yuya-takeyama/sumcompare/pkg/runner"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

// defaultConfigFile is looked up in the XDG config directories when
// --config is not given.
const defaultConfigFile = "sumcompare/config.yaml"

// flagKeys maps command-line flags to configuration keys. Only flags the
// user actually set override the lower layers.
var flagKeys = map[string]string{
	"algorithm":      "algorithm",
	"dryrun":         "dry_run",
	"preserve-dates": "preserve_dates",
	"keep-structure": "keep_structure",
	"move":           "move",
	"verify":         "verify",
	"self":           "self_check",
	"concurrency":    "concurrency",
	"scan-workers":   "scan_workers",
	"exclude":        "exclude",
	"backup":         "backup.enabled",
	"backup-dir":     "backup.dir",
	"backup-s3-uri":  "backup.s3_uri",
	"date-folders":   "date_folders.enabled",
	"date-source":    "date_folders.source",
	"date-pattern":   "date_folders.pattern",
	"use-metadata":   "date_folders.use_metadata",
	"report":         "report.enabled",
	"report-path":    "report.path",
}

type globalOptions struct {
	configFile string
	verbose    int
	quiet      bool
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errors.ExitStatus(err))
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "sumcompare [flags] <source> <target>",
		Short: "Copy files into a library unless their content is already there",
		Long: `sumcompare fingerprints every file under <target>, then copies each file
from <source> whose content is not yet present. Files whose content already
exists under another name are reported as duplicates instead of copied.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "Config file (.yaml, .yml or .toml)")
	pf.CountVarP(&opts.verbose, "verbose", "v", "Increase log verbosity (-v, -vv, -vvv)")
	pf.BoolVar(&opts.quiet, "quiet", false, "Only print changes and errors")

	pf.StringP("algorithm", "z", string(checksum.DefaultAlgorithm), fmt.Sprintf("Checksum algorithm %v", checksum.Algorithms()))
	pf.Bool("dryrun", false, "Show what would be copied without copying")
	pf.Bool("preserve-dates", false, "Keep source modification times on copies")
	pf.Bool("keep-structure", false, "Mirror the source directory layout under target")
	pf.Bool("move", false, "Remove source files once copied")
	pf.Bool("verify", false, "Re-check the fingerprint of every copy while writing it")
	pf.Bool("self", false, "Report duplicates inside source only")
	pf.Int("concurrency", 0, "Number of files processed at once (0 = number of CPUs)")
	pf.Int("scan-workers", 8, "Number of directories read at once while scanning")
	pf.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	pf.Bool("backup", false, "Archive source before copying")
	pf.String("backup-dir", "", "Directory for the backup archive (default: system temp dir)")
	pf.String("backup-s3-uri", "", "Upload the backup archive to s3://bucket/prefix")
	pf.Bool("date-folders", false, "Place copies in date folders")
	pf.String("date-source", string(resolver.DateModified), "Timestamp used for date folders (modified, created, accessed)")
	pf.String("date-pattern", string(resolver.YearMonth), fmt.Sprintf("Date folder layout %v", resolver.DatePatterns()))
	pf.Bool("use-metadata", false, "Prefer the creation date embedded in photos and videos")
	pf.Bool("report", false, "Write a run report")
	pf.String("report-path", "sumcompare-report.db", "Report file (.db, .sqlite or .json)")

	rootCmd.AddCommand(newConfigCommand(opts), newVersionCommand())
	return rootCmd
}

func newConfigCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config [flags] [source] [target]",
		Short: "Print the effective configuration",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args, opts)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sumcompare %s (commit: %s, built at: %s by %s)\n", version, commit, date, builtBy)
		},
	}
}

// collectOverrides turns every flag the user set into a configuration key.
func collectOverrides(flags *pflag.FlagSet) map[string]interface{} {
	overrides := map[string]interface{}{}
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		switch f.Value.Type() {
		case "bool":
			v, _ := flags.GetBool(f.Name)
			overrides[key] = v
		case "int":
			v, _ := flags.GetInt(f.Name)
			overrides[key] = v
		case "stringSlice":
			v, _ := flags.GetStringSlice(f.Name)
			overrides[key] = v
		default:
			overrides[key] = f.Value.String()
		}
	})
	return overrides
}

func loadConfig(cmd *cobra.Command, args []string, opts *globalOptions) (*config.Config, error) {
	overrides := collectOverrides(cmd.Flags())
	if len(args) > 0 {
		overrides["source"] = args[0]
	}
	if len(args) > 1 {
		overrides["target"] = args[1]
	}

	configFile := opts.configFile
	if configFile == "" {
		if found, err := xdg.SearchConfigFile(defaultConfigFile); err == nil {
			configFile = found
		}
	}

	return config.Load(config.LoadOptions{ConfigFile: configFile, Overrides: overrides})
}

func run(cmd *cobra.Command, args []string, opts *globalOptions) error {
	logging.SetupLogger(opts.verbose, opts.quiet)
	defer logging.Close()

	cfg, err := loadConfig(cmd, args, opts)
	if err != nil {
		return err
	}
	// Collaborators below may start processes or load credentials.
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var extractor media.DateExtractor
	if cfg.DateFolders.Enabled && cfg.DateFolders.UseMetadata {
		et := media.NewExifToolExtractor()
		defer et.Close()
		extractor = et
	}

	backupper, err := newBackupper(ctx, cfg)
	if err != nil {
		return err
	}

	var reporter runner.Reporter
	if cfg.Report.Enabled {
		w, err := report.NewWriter(cfg.Report.Path)
		if err != nil {
			return errors.Wrap(err, errors.ErrConfigInvalid, "invalid report path")
		}
		reporter = w
	}

	var progress logger.Logger
	if opts.quiet {
		progress = &logger.QuietLogger{Out: cmd.OutOrStdout()}
	} else {
		progress = &logger.ZerologLogger{
			Log:  logging.GetLogger("runner"),
			Kind: func(path string) string { return string(media.DetectKind(path)) },
		}
	}

	r := runner.New(runner.Options{
		Config:    cfg,
		Backupper: backupper,
		Reporter:  reporter,
		Extractor: extractor,
		Logger:    progress,
		Log:       log.Logger,
	})

	rep, runErr := r.Run(ctx)
	if summaryWanted(runErr) {
		printSummary(cmd.OutOrStdout(), rep)
	}
	return runErr
}

// summaryWanted reports whether a run that ended with err has counts worth
// printing. Configuration errors stop the run before anything was scanned.
func summaryWanted(err error) bool {
	return !errors.IsFatalConfig(err)
}

func newBackupper(ctx context.Context, cfg *config.Config) (runner.Backupper, error) {
	if !cfg.Backup.Enabled {
		return nil, nil
	}

	opts := backup.Options{
		Dir:    cfg.Backup.Dir,
		S3URI:  cfg.Backup.S3URI,
		Logger: logging.GetLogger("backup"),
	}
	if cfg.Backup.S3URI != "" {
		client, err := s3client.NewDefaultClient(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrBackup, "failed to load AWS config")
		}
		opts.Uploader = client
	}
	return backup.NewArchiver(opts), nil
}
