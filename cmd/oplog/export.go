package main

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logflow/oplog/pkg/parser"
	"github.com/logflow/oplog/pkg/tui"
	"github.com/logflow/oplog/pkg/util"
	"github.com/logflow/oplog/pkg/writer"
)

// Export flags
var (
	exportOutput      string
	exportFormat      string
	exportCompression string
	exportBatchSize   int
)

var exportCmd = &cobra.Command{
	Use:   "export [log...]",
	Short: "Export parsed records with their access verdicts",
	Long: `Export every parsed record, one row per operation, together with the
stream it belongs to and its sequential/seek verdict. Logs are written in the
order given; unparsable lines follow the error policy.

Formats: ` + strings.Join(writer.Formats, ", ") + `

Examples:
  oplog export -o ops.parquet access.log
  oplog export -o ops.duckdb --to duckdb logs/
  oplog export -o ops.jsonl --to jsonl s3://bucket/access/`,
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportOutput, "output", "o", "", "Output path (required)")
	f.StringVar(&exportFormat, "to", "", "Output format, detected from the extension when empty")
	f.StringVar(&exportCompression, "compression", "snappy", "Parquet compression (none, snappy, gzip, zstd)")
	f.IntVar(&exportBatchSize, "batch-size", 8192, "Rows per Parquet row group or DuckDB transaction")
	addScanFlags(exportCmd)
	exportCmd.MarkFlagRequired("output")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := cfgManager.Get()
	applyFlags(cmd, cfg)

	format := exportFormat
	if format == "" {
		format = detectExportFormat(exportOutput)
	}
	compression, err := writer.ParseCompression(exportCompression)
	if err != nil {
		return err
	}
	wcfg := writer.DefaultConfig()
	wcfg.BatchSize = exportBatchSize
	wcfg.Compression = compression

	r, err := newRunner(cfg)
	if err != nil {
		return err
	}
	logs, err := r.resolve(ctx, args)
	if err != nil {
		return err
	}

	errs, finish, err := r.errorHandler()
	if err != nil {
		return err
	}
	finished := false
	defer func() {
		// On failure the scan or write error is the one reported.
		if !finished {
			finish()
		}
	}()

	w, err := writer.New(format, exportOutput, wcfg)
	if err != nil {
		return err
	}

	start := time.Now()
	var stats parser.Stats
	for _, l := range logs {
		name := util.DisplayName(l.Path)
		rc, err := r.opener.Open(ctx, l.Path)
		if err != nil {
			w.Close()
			return err
		}

		opts := append(r.scan.Options(name, errs), parser.WithContext(ctx))
		sc := parser.NewScanner(rc, opts...)
		err = writer.Export(ctx, sc, name, w)
		rc.Close()
		stats.Add(sc.Stats())
		if err != nil {
			w.Close()
			return err
		}

		log.WithFields(log.Fields{
			"log":     name,
			"records": sc.Stats().Records,
			"skipped": sc.Stats().Skipped,
		}).Debug("log exported")
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", exportOutput, err)
	}

	log.WithFields(log.Fields{
		"path":   exportOutput,
		"format": format,
		"rows":   w.RowsWritten(),
	}).Info("records exported")

	finished = true
	unkept, err := finish()
	if err != nil {
		return err
	}

	if !quiet {
		tui.PrintRunSummary(cmd.ErrOrStderr(), styles, tui.RunSummary{
			Logs:          len(logs),
			Records:       stats.Records,
			Skipped:       stats.Skipped,
			Duration:      time.Since(start),
			Unquarantined: unkept,
		})
	}
	return nil
}

// detectExportFormat picks the format from the output extension and falls
// back to Parquet.
func detectExportFormat(path string) string {
	switch {
	case strings.HasSuffix(path, ".duckdb"), strings.HasSuffix(path, ".db"):
		return "duckdb"
	case strings.HasSuffix(path, ".jsonl"), strings.HasSuffix(path, ".ndjson"):
		return "jsonl"
	default:
		return "parquet"
	}
}
