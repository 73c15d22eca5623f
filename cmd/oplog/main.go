// oplog - Filesystem access-log workload analyzer
// Reads client access logs and reports how files are accessed: operation
// mix, sequential versus random I/O, sizes, latency and concurrency.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logflow/oplog/pkg/config"
	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/storage/s3"
	"github.com/logflow/oplog/pkg/telemetry"
	"github.com/logflow/oplog/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	noColor    bool
	quiet      bool
)

// Loaded in PersistentPreRunE.
var (
	cfgManager *config.Manager
	styles     tui.Styles
	shutdown   = func(context.Context) error { return nil }
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if serr := shutdown(context.Background()); serr != nil {
		log.WithError(serr).Warn("failed to flush traces")
	}
	if err != nil {
		var oe *oerrors.Error
		if errors.As(err, &oe) {
			log.WithField("code", oe.Code).Debugf("error raised at:\n%s", oe.FormatStack())
		}
		fmt.Fprintln(os.Stderr, styles.Warn.Render("error:"), err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "oplog",
	Short: "oplog - Analyze filesystem access logs",
	Long: `oplog reads filesystem client access logs (plain, gzip or zstd, local or s3://)
and reports the workload they describe: operation mix, sequential versus
random access, request sizes, latency, throughput and concurrency.

Configuration is read from /etc/oplog/config.yaml, ~/.oplog/config.yaml,
./.oplog.yaml and OPLOG_* environment variables, in that order.

Exit codes: 1 general failure, 2 invalid configuration, 3 unreadable log,
4 analysis aborted (too many bad lines or an impossible record), 130 interrupted.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Extra config file merged over the standard locations")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress and summary output")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
}

// setup loads configuration, applies global flags and configures logging
// and tracing.
func setup(cmd *cobra.Command, args []string) error {
	cfgManager = config.NewManager()
	if err := cfgManager.Load(); err != nil {
		return err
	}
	if configFile != "" {
		if err := cfgManager.LoadFile(configFile); err != nil {
			return err
		}
	}

	cfg := cfgManager.Get()
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("no-color") {
		cfg.Output.NoColor = noColor
	}

	if err := configureLogging(cfg.Logging); err != nil {
		return err
	}
	styles = tui.NewStyles(!cfg.Output.NoColor)

	log.WithFields(log.Fields{
		"paths":   cfgManager.GetPaths(),
		"command": cmd.Name(),
	}).Debug("configuration loaded")

	if cfg.Telemetry.Enabled {
		otlp := telemetry.DefaultOTLPConfig("oplog")
		otlp.Endpoint = cfg.Telemetry.Endpoint
		otlp.InsecureTLS = cfg.Telemetry.Insecure
		otlp.SamplingRatio = cfg.Telemetry.SamplingRatio
		otlp.ServiceVersion = version

		fn, err := telemetry.InitOTLP(cmd.Context(), otlp)
		if err != nil {
			return oerrors.InvalidConfig("telemetry.endpoint", err)
		}
		shutdown = fn
		log.WithField("endpoint", otlp.Endpoint).Debug("tracing enabled")
	}
	return nil
}

func configureLogging(c config.LoggingConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return oerrors.InvalidConfig("logging.level", err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch strings.ToLower(c.Format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			DisableColors: cfgManager.Get().Output.NoColor,
			FullTimestamp: true,
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return oerrors.InvalidConfig("logging.format", fmt.Errorf("unknown format %q", c.Format))
	}
	return nil
}

// s3Config maps the storage section to an S3 client configuration.
func s3Config(c config.StorageConfig) s3.Config {
	cfg := s3.DefaultConfig(c.S3Region)
	cfg.Endpoint = c.S3Endpoint
	cfg.UsePathStyle = c.S3PathStyle
	return cfg
}

// exitCode maps error classes to process exit codes. Fatal analysis
// errors exit with 4: the logs were read but no report can be trusted.
func exitCode(err error) int {
	if oerrors.IsFatal(err) {
		return 4
	}
	switch oerrors.GetCode(err) {
	case oerrors.CodeInvalidConfig:
		return 2
	case oerrors.CodeFileNotFound, oerrors.CodeFilePermission, oerrors.CodeInvalidSource, oerrors.CodeDecompress:
		return 3
	case oerrors.CodeCanceled:
		return 130
	default:
		return 1
	}
}
