package render

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/logflow/oplog/pkg/analysis"
	"github.com/logflow/oplog/pkg/tui"
)

const na = "n/a"

type textRenderer struct {
	opts Options
}

// Render writes the report as headed sections of tables.
func (t *textRenderer) Render(w io.Writer, r *analysis.Report) error {
	s := tui.NewStyles(t.opts.Color)
	tw := &errWriter{w: w}

	t.header(tw, s, r)
	t.summary(tw, s, r)
	t.operations(tw, s, r)
	t.pattern(tw, s, r)
	t.ioSection(tw, s, "Reads", r.Reads)
	t.ioSection(tw, s, "Writes", r.Writes)
	t.latency(tw, s, r)
	t.throughput(tw, s, r)
	t.concurrency(tw, s, r)
	t.gaps(tw, s, r)
	t.failures(tw, s, r)
	return tw.err
}

func (t *textRenderer) header(w *errWriter, s tui.Styles, r *analysis.Report) {
	fmt.Fprintln(w, s.Title.Render("OPLOG WORKLOAD REPORT"))
	if r.Meta.RunID != "" {
		fmt.Fprintf(w, "%s %s\n", s.Muted.Render("Run:"), r.Meta.RunID)
	}
	if len(r.Meta.Sources) > 0 {
		fmt.Fprintf(w, "%s %s\n", s.Muted.Render("Logs:"), strings.Join(r.Meta.Sources, ", "))
	}

	p := r.Parse
	line := fmt.Sprintf("%s lines, %s records, %s skipped",
		humanize.Comma(p.Lines), humanize.Comma(p.Records), humanize.Comma(p.Skipped))
	if p.Skipped > 0 {
		line = s.Warn.Render(line + reasons(p.ByReason))
	}
	fmt.Fprintf(w, "%s %s\n", s.Muted.Render("Parse:"), line)
}

func (t *textRenderer) summary(w *errWriter, s tui.Styles, r *analysis.Report) {
	section(w, s, "Summary")
	sum := r.Summary
	table := keyValueTable(w)
	table.row("Total operations", humanize.Comma(int64(sum.TotalOps)))
	table.row("Successful", humanize.Comma(int64(sum.SuccessfulOps)))
	table.row("Failed", humanize.Comma(int64(sum.FailedOps)))
	table.row("Unique inodes", humanize.Comma(int64(sum.UniqueInodes)))
	if sum.FirstSeen != nil {
		table.row("First seen", sum.FirstSeen.Format(time.RFC3339Nano))
		table.row("Last seen", sum.LastSeen.Format(time.RFC3339Nano))
		table.row("Span", seconds(*sum.SpanSeconds))
	}
	table.row("Operations/sec", decimal(sum.OpsPerSecond, 1))
	table.render()
}

func (t *textRenderer) operations(w *errWriter, s tui.Styles, r *analysis.Report) {
	section(w, s, "Operations")
	if len(r.Operations) == 0 {
		fmt.Fprintln(w, s.Muted.Render("no operations"))
		return
	}
	table := newTable(w, "Operation", "Count", "Failed", "Share", "")
	for _, op := range r.Operations {
		table.row(
			op.Operation,
			humanize.Comma(int64(op.Count)),
			humanize.Comma(int64(op.Failed)),
			pct(op.Percent),
			t.bar(op.Percent),
		)
	}
	table.render()
}

func (t *textRenderer) pattern(w *errWriter, s tui.Styles, r *analysis.Report) {
	section(w, s, "Access pattern")
	p := r.Pattern
	fmt.Fprintf(w, "%s %s\n", s.Muted.Render("Verdict:"), s.Title.Render(verdictLabel(p.Verdict)))

	table := keyValueTable(w)
	table.row("First accesses", humanize.Comma(int64(p.FirstAccesses)))
	table.row("Transitions", humanize.Comma(int64(p.Transitions)))
	table.row("Sequential", fmt.Sprintf("%s (%s)", humanize.Comma(int64(p.Sequential)), pct(p.SequentialPercent)))
	table.row("Random", fmt.Sprintf("%s (%s)", humanize.Comma(int64(p.Seeks.Count)), pct(p.RandomPercent)))
	table.row("Forward seeks", humanize.Comma(int64(p.ForwardSeeks)))
	table.row("Backward seeks", humanize.Comma(int64(p.BackwardSeeks)))
	if p.Seeks.Count > 0 {
		table.row("Avg seek distance", humanize.IBytes(uint64(*p.Seeks.AvgDistance)))
		table.row("Max seek distance", humanize.IBytes(p.Seeks.MaxDistance))
	}
	table.render()
}

func (t *textRenderer) ioSection(w *errWriter, s tui.Styles, title string, r analysis.IOReport) {
	section(w, s, title)
	if r.Count == 0 {
		fmt.Fprintln(w, s.Muted.Render("no successful "+strings.ToLower(title)))
		return
	}

	table := keyValueTable(w)
	table.row("Operations", humanize.Comma(int64(r.Count)))
	table.row("Bytes", humanize.IBytes(r.Bytes))
	table.row("Size min / max", humanize.IBytes(r.Size.Min) + " / " + humanize.IBytes(r.Size.Max))
	table.row("Size avg / median", approx(r.Size.Approximate) +
		humanize.IBytes(uint64(r.Size.Avg)) + " / " + humanize.IBytes(uint64(r.Size.Median)))
	table.row("Total duration", seconds(r.Duration.Total))
	table.row("Avg / median latency", seconds(r.Duration.Avg) + " / " + approx(r.Duration.Approximate) + seconds(r.Duration.Median))
	table.render()

	t.buckets(w, "Size", r.Buckets)
}

func (t *textRenderer) latency(w *errWriter, s tui.Styles, r *analysis.Report) {
	section(w, s, "Latency")
	d := r.Latency.Duration
	if d == nil {
		fmt.Fprintln(w, s.Muted.Render("no successful operations"))
		return
	}
	table := newTable(w, "Min", "Avg", "Median", "P95", "P99", "Max")
	table.row(
		seconds(d.Min), seconds(d.Avg),
		approx(d.Approximate) + seconds(d.Median),
		approx(d.Approximate) + seconds(d.P95),
		approx(d.Approximate) + seconds(d.P99),
		seconds(d.Max),
	)
	table.render()

	t.buckets(w, "Latency", r.Latency.Buckets)
}

func (t *textRenderer) throughput(w *errWriter, s tui.Styles, r *analysis.Report) {
	section(w, s, "Throughput")
	th := r.Throughput
	table := keyValueTable(w)
	table.row("Total duration", seconds(th.TotalDuration))
	table.row("Overall", rate(th.Overall))
	table.row("Read", rate(th.Read))
	table.row("Write", rate(th.Write))
	table.row("Read/write operations", pct(r.ReadShare)+" / "+pct(r.WriteShare))
	table.row("Read/write bytes", decimal(r.ReadWrite, 2))
	table.render()
}

func (t *textRenderer) concurrency(w *errWriter, s tui.Styles, r *analysis.Report) {
	section(w, s, "Concurrency")
	c := r.Concurrency
	table := keyValueTable(w)
	table.row("Streams", humanize.Comma(int64(c.Streams)))
	table.row("Avg ops/stream", decimal(c.AvgOpsPerStream, 1))
	table.row("Peak open handles", strconv.Itoa(c.PeakOpenHandles))
	table.row("Open at end", strconv.Itoa(c.OpenAtEnd))
	table.render()

	limit := strconv.FormatUint(c.HighActivityThreshold, 10)
	t.activity(w, s, "High-activity streams (> "+limit+" ops)", c.HighActivityStreams, r.Meta.Sources)
	t.activity(w, s, "High-activity inodes (> "+limit+" ops)", c.HighActivityInodes, nil)
}

func (t *textRenderer) activity(w *errWriter, s tui.Styles, title string, list []analysis.Activity, sources []string) {
	fmt.Fprintln(w, s.Muted.Render(title))
	if len(list) == 0 {
		fmt.Fprintln(w, s.Muted.Render("  none"))
		return
	}
	header := []any{"Key", "Ops"}
	if len(sources) > 1 {
		header = []any{"Key", "Log", "Ops"}
	}
	table := newTable(w, header...)
	for _, a := range list {
		row := []string{a.Key}
		if len(sources) > 1 {
			name := ""
			if a.Source < len(sources) {
				name = sources[a.Source]
			}
			row = append(row, name)
		}
		table.row(append(row, humanize.Comma(int64(a.Ops)))...)
	}
	table.render()
}

func (t *textRenderer) gaps(w *errWriter, s tui.Styles, r *analysis.Report) {
	section(w, s, "Gaps between operations")
	g := r.Gaps
	if g == nil {
		fmt.Fprintln(w, s.Muted.Render("log has no timestamps"))
		return
	}
	table := keyValueTable(w)
	table.row("Gaps", humanize.Comma(int64(g.Count)))
	if g.Avg != nil {
		table.row("Min / avg / max", seconds(g.Min) + " / " + seconds(*g.Avg) + " / " + seconds(g.Max))
	}
	table.row("Out of order", humanize.Comma(int64(g.OutOfOrder)))
	table.render()
}

func (t *textRenderer) failures(w *errWriter, s tui.Styles, r *analysis.Report) {
	if len(r.Errors) > 0 {
		section(w, s, "Errors")
		countTable(w, "Error", r.Errors)
	}
	if len(r.Unknown) > 0 {
		section(w, s, "Unknown operations")
		countTable(w, "Keyword", r.Unknown)
	}
}

func (t *textRenderer) buckets(w *errWriter, title string, buckets []analysis.Bucket) {
	table := newTable(w, title, "Count", "Share", "")
	for _, b := range buckets {
		table.row(b.Label, humanize.Comma(int64(b.Count)), pct(b.Percent), t.bar(b.Percent))
	}
	table.render()
}

// bar draws a share in percent as a run of full blocks.
func (t *textRenderer) bar(p *float64) string {
	if p == nil {
		return ""
	}
	n := int(*p / 100 * float64(t.opts.BarWidth))
	if n == 0 && *p > 0 {
		n = 1
	}
	return strings.Repeat("█", n)
}

func section(w *errWriter, s tui.Styles, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, s.Heading(title))
}

// table is a tablewriter table whose errors end up in the report's
// errWriter.
type table struct {
	tw  *tablewriter.Table
	out *errWriter
}

func newTable(w *errWriter, header ...any) *table {
	tw := tablewriter.NewWriter(w)
	tw.Header(header...)
	return &table{tw: tw, out: w}
}

func (t *table) row(cells ...string) {
	t.out.check(t.tw.Append(cells))
}

func (t *table) render() {
	t.out.check(t.tw.Render())
}

func keyValueTable(w *errWriter) *table {
	return newTable(w, "Metric", "Value")
}

// countTable lists counts in descending order, ties by name.
func countTable(w *errWriter, header string, counts map[string]uint64) {
	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	table := newTable(w, header, "Count")
	for _, n := range names {
		table.row(n, humanize.Comma(int64(counts[n])))
	}
	table.render()
}

func reasons(by map[string]int64) string {
	if len(by) == 0 {
		return ""
	}
	keys := make([]string, 0, len(by))
	for k := range by {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, by[k])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func verdictLabel(v string) string {
	if v == analysis.PatternInsufficientData {
		return "insufficient data"
	}
	return v
}

func approx(a bool) string {
	if a {
		return "~"
	}
	return ""
}

func pct(p *float64) string {
	if p == nil {
		return na
	}
	return strconv.FormatFloat(*p, 'f', 1, 64) + "%"
}

func decimal(v *float64, prec int) string {
	if v == nil {
		return na
	}
	return humanize.CommafWithDigits(*v, prec)
}

func rate(v *float64) string {
	if v == nil {
		return na
	}
	return humanize.IBytes(uint64(*v)) + "/s"
}

// seconds prints a duration given in seconds.
func seconds(v float64) string {
	return time.Duration(v * float64(time.Second)).String()
}

// errWriter remembers the first write error so Render can report it once.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return len(p), nil
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}

func (e *errWriter) check(err error) {
	if e.err == nil && err != nil {
		e.err = err
	}
}
