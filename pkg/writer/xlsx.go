package writer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/oplog/pkg/analysis"
)

// Report sheet names, in workbook order.
const (
	SheetSummary    = "Summary"
	SheetOperations = "Operations"
	SheetSizes      = "Sizes"
	SheetLatency    = "Latency"
	SheetActivity   = "Activity"
	SheetErrors     = "Errors"
)

type sheetBuilder struct {
	f      *excelize.File
	name   string
	row    int
	header int // style id
}

func (s *sheetBuilder) append(values ...interface{}) error {
	s.row++
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	return s.f.SetSheetRow(s.name, cell, &values)
}

func (s *sheetBuilder) heading(values ...interface{}) error {
	if err := s.append(values...); err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, s.row)
	last, _ := excelize.CoordinatesToCellName(len(values), s.row)
	return s.f.SetCellStyle(s.name, first, last, s.header)
}

func (s *sheetBuilder) blank() {
	s.row++
}

// WriteReportXLSX writes the report as a workbook with one sheet per
// section. Undefined values are left empty.
func WriteReportXLSX(w io.Writer, r *analysis.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDDDDD"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	sheets := []struct {
		name  string
		write func(*sheetBuilder, *analysis.Report) error
	}{
		{SheetSummary, summarySheet},
		{SheetOperations, operationsSheet},
		{SheetSizes, sizesSheet},
		{SheetLatency, latencySheet},
		{SheetActivity, activitySheet},
		{SheetErrors, errorsSheet},
	}
	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return err
		}
		if err := f.SetColWidth(sh.name, "A", "A", 28); err != nil {
			return err
		}
		if err := sh.write(&sheetBuilder{f: f, name: sh.name, header: header}, r); err != nil {
			return fmt.Errorf("sheet %s: %w", sh.name, err)
		}
	}

	return f.Write(w)
}

// SaveReportXLSX writes the workbook to path.
func SaveReportXLSX(path string, r *analysis.Report) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteReportXLSX(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func summarySheet(s *sheetBuilder, r *analysis.Report) error {
	sum, p, pat, th := r.Summary, r.Parse, r.Pattern, r.Throughput
	rows := [][]interface{}{
		{"Run", r.Meta.RunID},
		{"Logs", strings.Join(r.Meta.Sources, ", ")},
		{"Lines", p.Lines},
		{"Records", p.Records},
		{"Skipped lines", p.Skipped},
		{"Total operations", sum.TotalOps},
		{"Successful operations", sum.SuccessfulOps},
		{"Failed operations", sum.FailedOps},
		{"Unique inodes", sum.UniqueInodes},
		{"Span (s)", opt(sum.SpanSeconds)},
		{"Operations/sec", opt(sum.OpsPerSecond)},
		{"Access pattern", pat.Verdict},
		{"Transitions", pat.Transitions},
		{"Sequential", pat.Sequential},
		{"Forward seeks", pat.ForwardSeeks},
		{"Backward seeks", pat.BackwardSeeks},
		{"Sequential %", opt(pat.SequentialPercent)},
		{"Avg seek distance", opt(pat.Seeks.AvgDistance)},
		{"Max seek distance", pat.Seeks.MaxDistance},
		{"Read bytes", r.Reads.Bytes},
		{"Write bytes", r.Writes.Bytes},
		{"Read operations %", opt(r.ReadShare)},
		{"Write operations %", opt(r.WriteShare)},
		{"Read/write byte ratio", opt(r.ReadWrite)},
		{"Total duration (s)", th.TotalDuration},
		{"Throughput (B/s)", opt(th.Overall)},
		{"Read throughput (B/s)", opt(th.Read)},
		{"Write throughput (B/s)", opt(th.Write)},
		{"Streams", r.Concurrency.Streams},
		{"Peak open handles", r.Concurrency.PeakOpenHandles},
		{"Open at end", r.Concurrency.OpenAtEnd},
	}
	if err := s.heading("Metric", "Value"); err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.append(row...); err != nil {
			return err
		}
	}
	return nil
}

func operationsSheet(s *sheetBuilder, r *analysis.Report) error {
	if err := s.heading("Operation", "Count", "Failed", "Percent"); err != nil {
		return err
	}
	for _, op := range r.Operations {
		if err := s.append(op.Operation, op.Count, op.Failed, opt(op.Percent)); err != nil {
			return err
		}
	}
	return nil
}

func sizesSheet(s *sheetBuilder, r *analysis.Report) error {
	for i, sec := range []struct {
		name string
		io   analysis.IOReport
	}{{"Read size", r.Reads}, {"Write size", r.Writes}} {
		if i > 0 {
			s.blank()
		}
		if err := bucketRows(s, sec.name, sec.io.Buckets); err != nil {
			return err
		}
	}
	return nil
}

func latencySheet(s *sheetBuilder, r *analysis.Report) error {
	if d := r.Latency.Duration; d != nil {
		if err := s.heading("Min (s)", "Avg (s)", "Median (s)", "P95 (s)", "P99 (s)", "Max (s)"); err != nil {
			return err
		}
		if err := s.append(d.Min, d.Avg, d.Median, d.P95, d.P99, d.Max); err != nil {
			return err
		}
		s.blank()
	}
	return bucketRows(s, "Latency", r.Latency.Buckets)
}

func bucketRows(s *sheetBuilder, title string, buckets []analysis.Bucket) error {
	if err := s.heading(title, "Count", "Percent"); err != nil {
		return err
	}
	for _, b := range buckets {
		if err := s.append(b.Label, b.Count, opt(b.Percent)); err != nil {
			return err
		}
	}
	return nil
}

func activitySheet(s *sheetBuilder, r *analysis.Report) error {
	if err := s.heading("Kind", "Key", "Log", "Ops"); err != nil {
		return err
	}
	for _, a := range r.Concurrency.HighActivityStreams {
		var log string
		if a.Source < len(r.Meta.Sources) {
			log = r.Meta.Sources[a.Source]
		}
		if err := s.append("stream", a.Key, log, a.Ops); err != nil {
			return err
		}
	}
	for _, a := range r.Concurrency.HighActivityInodes {
		if err := s.append("inode", a.Key, "", a.Ops); err != nil {
			return err
		}
	}
	return nil
}

func errorsSheet(s *sheetBuilder, r *analysis.Report) error {
	if err := s.heading("Kind", "Name", "Count"); err != nil {
		return err
	}
	for _, group := range []struct {
		kind   string
		counts map[string]uint64
	}{{"errno", r.Errors}, {"unknown operation", r.Unknown}} {
		for _, name := range sortedKeys(group.counts) {
			if err := s.append(group.kind, name, group.counts[name]); err != nil {
				return err
			}
		}
	}
	for _, reason := range sortedKeys(r.Parse.ByReason) {
		if err := s.append("skipped line", reason, r.Parse.ByReason[reason]); err != nil {
			return err
		}
	}
	return nil
}

// opt converts an undefined value to an empty cell.
func opt(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
