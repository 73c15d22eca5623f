package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logflow/oplog/pkg/analysis"
	"github.com/logflow/oplog/pkg/cache"
	"github.com/logflow/oplog/pkg/config"
	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/parser"
	"github.com/logflow/oplog/pkg/pipeline"
	"github.com/logflow/oplog/pkg/render"
	"github.com/logflow/oplog/pkg/telemetry"
	"github.com/logflow/oplog/pkg/tui"
	"github.com/logflow/oplog/pkg/util"
	"github.com/logflow/oplog/pkg/writer"
)

// Analyze flags
var (
	outputFormat    string
	outputFile      string
	xlsxFile        string
	metricsFile     string
	useCache        bool
	errorPolicy     string
	quarantineFile  string
	maxErrors       int64
	parallelism     int
	noProgress      bool
	seqThreshold    float64
	randomThreshold float64
	highActivity    uint64
	topActivity     int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [log...]",
	Short: "Analyze access logs and print a workload report",
	Long: `Analyze one or more access logs and print a workload report.

Logs may be local files, directories (every regular file inside), s3://bucket/key
objects or s3://bucket/prefix/ listings, or "-" for stdin. Compressed logs are
detected from their contents. Several logs are scanned in parallel and merged
into one report; access streams never span logs.

Examples:
  oplog analyze juicefs.access.log
  oplog analyze -f json logs/ > report.json
  oplog analyze --xlsx report.xlsx s3://bucket/access/2024-03-01/
  cat access.log | oplog analyze -
  oplog analyze --error-policy quarantine --quarantine bad.jsonl access.log.gz`,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&outputFormat, "format", "f", "", "Report format (text, json, yaml)")
	f.StringVarP(&outputFile, "output", "o", "", "Write the report to a file instead of stdout")
	f.StringVar(&xlsxFile, "xlsx", "", "Also write the report as an Excel workbook")
	f.StringVar(&metricsFile, "metrics-file", "", "Write report metrics as a Prometheus textfile")
	f.BoolVar(&useCache, "cache", false, "Serve unchanged logs from the Redis report cache")
	addScanFlags(analyzeCmd)
	f.BoolVar(&noProgress, "no-progress", false, "Do not draw a progress bar")
	f.Float64Var(&seqThreshold, "sequential-threshold", 0, "Sequential percentage at or above which the workload is sequential")
	f.Float64Var(&randomThreshold, "random-threshold", 0, "Sequential percentage at or below which the workload is random")
	f.Uint64Var(&highActivity, "high-activity", 0, "Operations at which a stream or inode counts as high activity")
	f.IntVar(&topActivity, "top", 0, "Number of high-activity streams and inodes to list")
}

// addScanFlags binds the flags every log-reading command shares.
func addScanFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&errorPolicy, "error-policy", "", "What to do with unparsable lines (skip, strict, quarantine)")
	f.StringVar(&quarantineFile, "quarantine", "", "JSONL file receiving unparsable lines")
	f.Int64Var(&maxErrors, "max-errors", 0, "Abort after this many unparsable lines (0 = unlimited)")
	f.IntVarP(&parallelism, "parallel", "j", 0, "Logs scanned at once (0 = number of CPUs)")
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Lookup(name) != nil && f.Changed(name) {
			apply()
		}
	}

	set("format", func() { cfg.Output.Format = outputFormat })
	set("cache", func() { cfg.Cache.Enabled = useCache })
	set("metrics-file", func() { cfg.Telemetry.MetricsFile = metricsFile })
	set("no-progress", func() { cfg.Output.Progress = !noProgress })
	set("error-policy", func() { cfg.Input.ErrorPolicy = errorPolicy })
	set("quarantine", func() { cfg.Input.Quarantine = quarantineFile })
	set("max-errors", func() { cfg.Input.MaxErrors = maxErrors })
	set("parallel", func() { cfg.Input.Parallelism = parallelism })
	set("sequential-threshold", func() { cfg.Analysis.SequentialThreshold = seqThreshold })
	set("random-threshold", func() { cfg.Analysis.RandomThreshold = randomThreshold })
	set("high-activity", func() { cfg.Analysis.HighActivityOps = highActivity })
	set("top", func() { cfg.Analysis.TopActivity = topActivity })
	if quiet {
		cfg.Output.Progress = false
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := cfgManager.Get()
	applyFlags(cmd, cfg)

	r, err := newRunner(cfg)
	if err != nil {
		return err
	}
	renderer, err := render.New(cfg.Output.Format, render.Options{Color: !cfg.Output.NoColor && outputFile == ""})
	if err != nil {
		return err
	}

	logs, err := r.resolve(ctx, args)
	if err != nil {
		return err
	}

	var rc cache.Cache
	key, cacheable := cache.Key(logs, r.policy, r.scan)
	if cfg.Cache.Enabled && cacheable {
		redis, err := openCache(ctx, cfg.Cache)
		if err != nil {
			// An unreachable cache only costs the lookup.
			log.WithError(err).Warn("report cache disabled")
		} else {
			rc = redis
			defer rc.Close()
		}
	}

	var report *analysis.Report
	summary := tui.RunSummary{Logs: len(logs)}
	if rc != nil {
		if cached, ok, err := rc.Get(ctx, key); err != nil {
			log.WithError(err).Warn("report cache lookup failed")
		} else if ok {
			log.WithField("key", key[:12]).Debug("report cache hit")
			report, summary.Cached = cached, true
		}
	}

	if report == nil {
		report, summary, err = r.analyze(ctx, logs, progressWriter(cfg))
		if err != nil {
			return err
		}
		if rc != nil {
			if err := rc.Put(ctx, key, report); err != nil {
				log.WithError(err).Warn("failed to cache report")
			}
		}
	}

	if err := writeReport(renderer, report); err != nil {
		return err
	}
	if xlsxFile != "" {
		if err := writer.SaveReportXLSX(xlsxFile, report); err != nil {
			return fmt.Errorf("failed to write %s: %w", xlsxFile, err)
		}
		log.WithField("path", xlsxFile).Info("workbook written")
	}
	if cfg.Telemetry.MetricsFile != "" {
		m := telemetry.NewMetrics()
		m.Observe(report)
		m.RunSeconds.Set(summary.Duration.Seconds())
		if err := m.WriteTextfile(cfg.Telemetry.MetricsFile); err != nil {
			return fmt.Errorf("failed to write %s: %w", cfg.Telemetry.MetricsFile, err)
		}
	}

	if !quiet {
		tui.PrintRunSummary(os.Stderr, styles, summary)
	}
	return nil
}

func writeReport(renderer render.Renderer, report *analysis.Report) error {
	if outputFile == "" {
		return renderer.Render(os.Stdout, report)
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	if err := renderer.Render(f, report); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.WithField("path", outputFile).Info("report written")
	return nil
}

func progressWriter(cfg *config.Config) io.Writer {
	if !cfg.Output.Progress {
		return nil
	}
	return os.Stderr
}

// runner holds what every analysis of a run shares.
type runner struct {
	cfg         *config.Config
	policy      analysis.Policy
	scan        parser.Config
	parallelism int
	opener      *util.Opener
}

func newRunner(cfg *config.Config) (*runner, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	scan, err := cfg.ScanConfig()
	if err != nil {
		return nil, err
	}
	n := cfg.Input.Parallelism
	if n <= 0 {
		n = defaultParallelism()
	}
	return &runner{
		cfg:         cfg,
		policy:      policy,
		scan:        scan,
		parallelism: n,
		opener:      util.NewOpener(s3Config(cfg.Storage)),
	}, nil
}

// resolve expands args into logs; no args means stdin.
func (r *runner) resolve(ctx context.Context, args []string) ([]util.Info, error) {
	if len(args) == 0 {
		args = []string{util.Stdin}
	}
	paths, err := r.opener.Expand(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no logs found in %v", args)
	}

	logs := make([]util.Info, len(paths))
	for i, p := range paths {
		if logs[i], err = r.opener.Stat(ctx, p); err != nil {
			return nil, err
		}
	}
	return logs, nil
}

// analyze scans logs into a report with its metadata filled in. progress,
// when non-nil, receives a byte progress bar.
func (r *runner) analyze(ctx context.Context, logs []util.Info, progress io.Writer) (*analysis.Report, tui.RunSummary, error) {
	start := time.Now()
	summary := tui.RunSummary{Logs: len(logs)}

	var total int64
	names := make([]string, len(logs))
	for i, l := range logs {
		names[i] = util.DisplayName(l.Path)
		if l.Size < 0 || total < 0 {
			total = -1
		} else {
			total += l.Size
		}
	}

	bar := tui.NewProgress(progress, total, "scanning")
	r.opener.Wrap = func(_ util.Info, rd io.Reader) io.Reader { return bar.Wrap(rd) }

	errs, finish, err := r.errorHandler()
	if err != nil {
		return nil, summary, err
	}

	sources := make([]analysis.Source, len(logs))
	for i, l := range logs {
		path := l.Path
		sources[i] = analysis.Source{
			Name: names[i],
			Open: func(ctx context.Context) (io.ReadCloser, error) { return r.opener.Open(ctx, path) },
		}
	}

	report, err := analysis.AnalyzeSources(ctx, sources, r.policy, analysis.Options{
		Scan:        r.scan,
		Errors:      errs,
		Parallelism: r.parallelism,
		OnDone: func(name string, stats parser.Stats) {
			entry := log.WithFields(log.Fields{
				"log":     name,
				"lines":   stats.Lines,
				"records": stats.Records,
				"skipped": stats.Skipped,
			})
			if stats.Skipped > 0 {
				entry.Warn("log scanned with skipped lines")
			} else {
				entry.Debug("log scanned")
			}
		},
	})
	if ferr := bar.Finish(); ferr != nil {
		log.WithError(ferr).Debug("progress bar")
	}
	unkept, ferr := finish()
	summary.Unquarantined = unkept
	if err == nil {
		err = ferr
	}
	if err != nil {
		return nil, summary, err
	}

	report.Meta.RunID = uuid.NewString()
	report.Meta.Sources = names
	report.Meta.GeneratedAt = time.Now().UTC()

	summary.Records = report.Parse.Records
	summary.Skipped = report.Parse.Skipped
	summary.Bytes = bar.Read()
	summary.Duration = time.Since(start)
	return report, summary, nil
}

// errorHandler returns the line-failure handler shared by every log of a
// run, opening the quarantine file when the policy needs one. finish closes
// the quarantine and returns the number of skipped lines it failed to keep.
func (r *runner) errorHandler() (*pipeline.ErrorHandler, func() (int64, error), error) {
	var q *pipeline.Quarantine
	if r.scan.ErrorPolicy == pipeline.ErrorPolicyQuarantine {
		var err error
		if q, err = pipeline.OpenQuarantine(r.cfg.Input.Quarantine); err != nil {
			return nil, nil, oerrors.Wrap(err, oerrors.CodeWriteFailed, "open quarantine").
				WithContext("path", r.cfg.Input.Quarantine)
		}
	}

	h := r.scan.ErrorHandler(q).WithOnSkip(func(rec pipeline.ErrorRecord) {
		log.WithFields(log.Fields{
			"log":    rec.SourceFile,
			"line":   rec.LineNumber,
			"reason": rec.ErrorType,
		}).Debug("line skipped")
	})

	finish := func() (int64, error) {
		st := h.Stats()
		if st.ErrorCount > 0 {
			log.WithFields(log.Fields{
				"policy":  st.Policy,
				"failed":  st.ErrorCount,
				"skipped": st.SkippedCount,
				"by_type": st.ByType,
			}).Debug("line failures")
		}
		if st.QuarantineErrors > 0 {
			log.WithError(st.QuarantineErr).WithField("lines", st.QuarantineErrors).
				Error("failed to quarantine skipped lines")
		}
		if q == nil {
			return st.QuarantineErrors, nil
		}
		if err := q.Close(); err != nil {
			log.WithError(err).WithField("path", q.Path()).Error("failed to flush quarantine")
			return st.QuarantineErrors, oerrors.Wrap(err, oerrors.CodeWriteFailed, "close quarantine").
				WithContext("path", q.Path())
		}
		if q.Count() > 0 {
			log.WithFields(log.Fields{"path": q.Path(), "lines": q.Count()}).Warn("unparsable lines quarantined")
		}
		return st.QuarantineErrors, nil
	}
	return h, finish, nil
}

func defaultParallelism() int {
	return runtime.NumCPU()
}

func openCache(ctx context.Context, c config.CacheConfig) (*cache.RedisCache, error) {
	rc := cache.DefaultRedisConfig(c.RedisAddr)
	rc.Password = c.Password
	rc.Database = c.DB
	if c.KeyPrefix != "" {
		rc.Prefix = c.KeyPrefix
	}
	rc.TTL = c.TTL
	return cache.NewRedisCache(ctx, rc)
}
