package tui

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Progress is one byte-progress bar shared by every log of a run. Logs
// scanned in parallel feed the same bar.
type Progress struct {
	bar  *progressbar.ProgressBar
	read atomic.Int64
}

// NewProgress creates a progress bar writing to w. A negative total shows
// a spinner instead of a percentage. A nil w disables drawing but bytes are
// still counted.
func NewProgress(w io.Writer, total int64, description string) *Progress {
	p := &Progress{}
	if w == nil {
		return p
	}
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return p
}

// Wrap returns a reader that advances the bar as r is read.
func (p *Progress) Wrap(r io.Reader) io.Reader {
	return &countingReader{r: r, p: p}
}

// Read returns the number of bytes read through wrapped readers.
func (p *Progress) Read() int64 {
	return p.read.Load()
}

// Finish completes and clears the bar.
func (p *Progress) Finish() error {
	if p.bar == nil {
		return nil
	}
	return p.bar.Finish()
}

type countingReader struct {
	r io.Reader
	p *Progress
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.p.read.Add(int64(n))
		if c.p.bar != nil {
			_ = c.p.bar.Add(n)
		}
	}
	return n, err
}
