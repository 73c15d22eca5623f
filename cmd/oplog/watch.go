package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/render"
	"github.com/logflow/oplog/pkg/storage/s3"
	"github.com/logflow/oplog/pkg/util"
	"github.com/logflow/oplog/pkg/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <log...>",
	Short: "Re-analyze local logs whenever they change",
	Long: `Analyze local logs, then print a fresh report every time one of them is
appended to, rewritten or rotated. Stops on Ctrl-C.

Examples:
  oplog watch /var/log/juicefs/access.log
  oplog watch -f json --debounce 2s access.log > reports.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVarP(&outputFormat, "format", "f", "", "Report format (text, json, yaml)")
	f.DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before re-analyzing")
	addScanFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := cfgManager.Get()
	applyFlags(cmd, cfg)
	cfg.Output.Progress = false

	for _, a := range args {
		if a == util.Stdin || s3.IsURI(a) {
			return fmt.Errorf("watch needs local files, got %s", a)
		}
	}

	r, err := newRunner(cfg)
	if err != nil {
		return err
	}
	renderer, err := render.New(cfg.Output.Format, render.Options{Color: !cfg.Output.NoColor})
	if err != nil {
		return err
	}
	logs, err := r.resolve(ctx, args)
	if err != nil {
		return err
	}

	w, err := watch.NewWatcher(watchDebounce)
	if err != nil {
		return err
	}
	defer w.Close()
	for _, l := range logs {
		if err := w.Watch(l.Path); err != nil {
			return err
		}
	}

	runs := 0
	report := func(ctx context.Context) error {
		runs++
		rep, summary, err := r.analyze(ctx, logs, nil)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"run":     runs,
			"records": summary.Records,
			"took":    summary.Duration.Round(time.Millisecond),
		}).Info("report updated")
		return renderer.Render(os.Stdout, rep)
	}

	if err := report(ctx); err != nil {
		return err
	}

	w.OnChange = func(changes []watch.Change) error {
		for _, c := range changes {
			entry := log.WithFields(log.Fields{"log": c.Path, "size": c.Size})
			if c.Truncated {
				entry.Info("log truncated or rotated")
			} else {
				entry.Debug("log changed")
			}
		}
		// Sizes and mtimes changed; re-stat so the report metadata and
		// progress totals match what is read.
		fresh, err := r.resolve(ctx, w.Paths())
		if oerrors.IsCode(err, oerrors.CodeFileNotFound) {
			// Rotated away; the next Create brings it back.
			log.WithError(err).Warn("log missing, waiting for it to reappear")
			return nil
		}
		if err != nil {
			return err
		}
		logs = fresh
		return report(ctx)
	}
	w.OnError = func(path string, err error) {
		log.WithError(err).WithField("log", path).Warn("watch error")
	}

	if !quiet {
		fmt.Fprintln(cmd.ErrOrStderr(), styles.Muted.Render(fmt.Sprintf("watching %d log(s), Ctrl-C to stop", len(logs))))
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
