// Package analysis classifies the access pattern of parsed operation
// records and aggregates them into a Report.
//
// The engine is one forward pass: each record goes through the Classifier,
// which keeps per-stream offset state, and then through the Aggregator
// together with the classifier's verdict. Assemble turns the final
// aggregator state into an immutable Report.
package analysis

import (
	"context"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/oplog/internal/model"
	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/parser"
	"github.com/logflow/oplog/pkg/pipeline"
)

var tracer = otel.Tracer("github.com/logflow/oplog/pkg/analysis")

// Analyzer runs the classifier and aggregator over one ordered log.
type Analyzer struct {
	policy     Policy
	classifier *Classifier
	agg        *Aggregator
	scan       parser.Stats
}

// New creates an Analyzer for a single log.
func New(p Policy) (*Analyzer, error) {
	return newAnalyzer(p, 0)
}

func newAnalyzer(p Policy, source int) (*Analyzer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.clone()
	return &Analyzer{
		policy:     p,
		classifier: NewClassifier(),
		agg:        NewAggregator(p, source),
	}, nil
}

// Add classifies and aggregates the next record in log order.
func (a *Analyzer) Add(r *model.Record) error {
	return a.agg.Add(r, a.classifier.Classify(r))
}

// Consume adds every record sc produces and keeps its line counts.
func (a *Analyzer) Consume(sc *parser.Scanner) error {
	var err error
	for sc.Next() {
		if err = a.Add(sc.Record()); err != nil {
			break
		}
	}
	a.scan.Add(sc.Stats())
	if err != nil {
		return err
	}
	return sc.Err()
}

// Merge folds the aggregates of another log into a. Classifier state is
// not merged; streams never span logs.
func (a *Analyzer) Merge(o *Analyzer) error {
	a.scan.Add(o.scan)
	return a.agg.Merge(o.agg)
}

// Report assembles the current state. It may be called more than once.
func (a *Analyzer) Report() *Report {
	return Assemble(a.agg, a.scan)
}

// Analyze builds a report from records already in memory.
func Analyze(records []*model.Record, p Policy) (*Report, error) {
	a, err := New(p)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := a.Add(r); err != nil {
			return nil, err
		}
	}
	a.scan.Records = int64(len(records))
	a.scan.Lines = int64(len(records))
	return a.Report(), nil
}

// AnalyzeText parses a complete log held in memory and analyzes it. Lines
// that fail to parse are skipped and counted in Report.Parse.
func AnalyzeText(text string, p Policy) (*Report, error) {
	a, err := New(p)
	if err != nil {
		return nil, err
	}
	if err := a.Consume(parser.NewScanner(strings.NewReader(text))); err != nil {
		return nil, err
	}
	return a.Report(), nil
}

// Source is one log to analyze.
type Source struct {
	Name string
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// Options controls AnalyzeSources.
type Options struct {
	Scan parser.Config
	// Errors receives the line failures of every source, so its max-errors
	// limit applies to the whole run. Nil means a handler built from Scan.
	Errors *pipeline.ErrorHandler
	// Parallelism bounds the number of logs scanned at once (<= 0 means 1).
	Parallelism int
	// OnDone is called after each log has been scanned. It may be called
	// from several goroutines at once.
	OnDone func(name string, stats parser.Stats)
}

// AnalyzeSources scans every source concurrently, each with its own
// classifier, and merges the aggregates in source order. Stream activity in
// the report refers to sources by index.
func AnalyzeSources(ctx context.Context, sources []Source, p Policy, opts Options) (*Report, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "analysis.AnalyzeSources")
	defer span.End()
	span.SetAttributes(attribute.Int("oplog.sources", len(sources)))

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	if opts.Errors == nil {
		opts.Errors = opts.Scan.ErrorHandler(nil)
	}

	results := make([]*Analyzer, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			a, err := analyzeSource(gctx, src, i, p, opts)
			if err != nil {
				return err
			}
			results[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	merged, err := newAnalyzer(p, 0)
	if err != nil {
		return nil, err
	}
	for _, a := range results {
		if err := merged.Merge(a); err != nil {
			return nil, err
		}
	}
	report := merged.Report()
	span.SetAttributes(
		attribute.Int64("oplog.records", report.Parse.Records),
		attribute.Int64("oplog.skipped", report.Parse.Skipped),
	)
	return report, nil
}

func analyzeSource(ctx context.Context, src Source, index int, p Policy, opts Options) (*Analyzer, error) {
	ctx, span := tracer.Start(ctx, "analysis.source")
	defer span.End()
	span.SetAttributes(attribute.String("oplog.source", src.Name))

	rc, err := src.Open(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rc.Close()

	a, err := newAnalyzer(p, index)
	if err != nil {
		return nil, err
	}
	scanOpts := append(opts.Scan.Options(src.Name, opts.Errors), parser.WithContext(ctx))
	if err := a.Consume(parser.NewScanner(rc, scanOpts...)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if oerrors.GetCode(err) == oerrors.CodeUnknown {
			err = oerrors.Wrap(err, oerrors.CodeInvalidSource, "analyze log").WithContext("source", src.Name)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("oplog.lines", a.scan.Lines),
		attribute.Int64("oplog.records", a.scan.Records),
	)
	if opts.OnDone != nil {
		opts.OnDone(src.Name, a.scan)
	}
	return a, nil
}
