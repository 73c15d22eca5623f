package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logflow/oplog/pkg/testing/generators"
)

// Generate flags
var (
	genLines      int
	genSeed       int64
	genOutput     string
	genSequential float64
	genWrites     float64
	genHandles    int
	genFailures   float64
	genMalformed  float64
	genNoTime     bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic access log",
	Long: `Write a synthetic access log. Output is fully determined by the seed,
so generated logs are reproducible test fixtures. Paths ending in .gz or .zst
are compressed.

Examples:
  oplog generate -n 100000 -o sample.log
  oplog generate -n 1000000 --sequential 0.2 -o random.log.zst
  oplog generate --malformed 0.01 | oplog analyze -`,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.IntVarP(&genLines, "lines", "n", 10000, "Number of lines")
	f.Int64Var(&genSeed, "seed", 1, "Random seed")
	f.StringVarP(&genOutput, "output", "o", "", "Output path (stdout when empty)")
	f.Float64Var(&genSequential, "sequential", 0.8, "Probability an access continues its stream")
	f.Float64Var(&genWrites, "writes", 0.3, "Share of accesses that are writes")
	f.IntVar(&genHandles, "handles", 4, "Open handles kept at most")
	f.Float64Var(&genFailures, "failures", 0.02, "Probability an operation fails")
	f.Float64Var(&genMalformed, "malformed", 0, "Probability a line is deliberately broken")
	f.BoolVar(&genNoTime, "no-timestamps", false, "Omit timestamps")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if genLines < 0 {
		return fmt.Errorf("--lines must not be negative")
	}

	g := generators.NewOplogGenerator(genSeed)
	g.SequentialRate = genSequential
	g.WriteRate = genWrites
	g.Handles = genHandles
	g.FailureRate = genFailures
	g.MalformedRate = genMalformed
	g.Timestamps = !genNoTime

	var out io.Writer = cmd.OutOrStdout()
	var closers []io.Closer
	if genOutput != "" {
		f, err := os.Create(genOutput)
		if err != nil {
			return err
		}
		out, closers = f, append(closers, f)

		switch {
		case strings.HasSuffix(genOutput, ".gz"):
			zw := gzip.NewWriter(f)
			out, closers = zw, append(closers, zw)
		case strings.HasSuffix(genOutput, ".zst"), strings.HasSuffix(genOutput, ".zstd"):
			zw, err := zstd.NewWriter(f)
			if err != nil {
				f.Close()
				return err
			}
			out, closers = zw, append(closers, zw)
		}
	}

	broken, err := g.WriteLog(out, genLines)

	// Close compressors before the file.
	for i := len(closers) - 1; i >= 0; i-- {
		if cerr := closers[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return err
	}

	if genOutput != "" {
		log.WithFields(log.Fields{
			"path":   genOutput,
			"lines":  genLines,
			"broken": broken,
		}).Info("log generated")
	}
	return nil
}
