// Package generators provides test data generation utilities.
package generators

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"time"

	"github.com/logflow/oplog/internal/model"
	"github.com/logflow/oplog/pkg/parser"
)

// OplogGenerator produces a plausible access log: handles are opened, read
// or written, and released, mixed with metadata operations. Output is fully
// determined by the seed.
type OplogGenerator struct {
	rng *rand.Rand

	// Timeline
	Start      time.Time
	MaxGap     time.Duration // upper bound between consecutive timestamps
	Timestamps bool

	// Workload shape
	Handles        int     // open handles kept at most
	SequentialRate float64 // probability an access continues its stream
	WriteRate      float64 // share of accesses that are writes
	BlockSize      uint64
	FailureRate    float64 // probability an operation fails
	UnknownRate    float64 // probability of an operation outside the vocabulary

	// MalformedRate is the probability WriteLog emits a broken line instead
	// of a record.
	MalformedRate float64

	now        time.Time
	nextHandle uint64
	nextInode  uint64
	open       []*openFile
}

type openFile struct {
	inode  uint64
	handle uint64
	offset uint64
}

var (
	generatedNames = []string{"data.bin", "part-00001", "a,b.csv", "x(1).log", "odd): name", "report final.txt"}
	generatedErrs  = []string{"ENOENT", "EIO", "EACCES", "no such file or directory"}
)

// NewOplogGenerator creates a generator with default settings.
func NewOplogGenerator(seed int64) *OplogGenerator {
	return &OplogGenerator{
		rng:            rand.New(rand.NewSource(seed)),
		Start:          time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		MaxGap:         5 * time.Millisecond,
		Timestamps:     true,
		Handles:        4,
		SequentialRate: 0.8,
		WriteRate:      0.3,
		BlockSize:      4096,
		FailureRate:    0.02,
		UnknownRate:    0.01,
		nextHandle:     1,
		nextInode:      100,
	}
}

// Next returns the next record of the workload.
func (g *OplogGenerator) Next() *model.Record {
	if g.now.IsZero() {
		g.now = g.Start.Truncate(time.Microsecond)
	}
	r := &model.Record{
		UID:      uint32(g.rng.Intn(2) * 1000),
		GID:      uint32(g.rng.Intn(2) * 1000),
		PID:      uint32(1000 + g.rng.Intn(50)),
		OK:       g.rng.Float64() >= g.FailureRate,
		Duration: float64(g.rng.Intn(200000)) / 1e6,
	}
	if g.Timestamps {
		if g.MaxGap > 0 {
			g.now = g.now.Add(time.Duration(g.rng.Int63n(int64(g.MaxGap))).Truncate(time.Microsecond))
		}
		r.Timestamp = g.now
	}
	if !r.OK {
		r.Errno = generatedErrs[g.rng.Intn(len(generatedErrs))]
	}

	switch x := g.rng.Float64(); {
	case x < g.UnknownRate:
		r.Op = model.OpUnknown
		r.Keyword = "fallocate"
		r.RawArgs = fmt.Sprintf("%d,0,%d", g.inode(), g.BlockSize)
	case len(g.open) == 0 || (len(g.open) < g.Handles && x < 0.1):
		g.openFile(r)
	case x < 0.7:
		g.access(r)
	case x < 0.8:
		r.Op = model.OpGetattr
		r.Args.Set(model.FieldInode, g.inode())
	case x < 0.85:
		r.Op = model.OpLookup
		r.Args.Set(model.FieldParentInode, 1)
		r.Args.SetName(g.name())
	case x < 0.88:
		f := g.pick()
		r.Op = model.OpFlush
		r.Args.Set(model.FieldInode, f.inode)
		r.Args.Set(model.FieldHandle, f.handle)
	case x < 0.91:
		r.Op = model.OpSetattr
		r.Args.Set(model.FieldInode, g.inode())
		r.Args.Set(model.FieldSetMask, 0x1)
		r.Args.Set(model.FieldMode, 0o100644)
	case x < 0.93:
		r.Op = model.OpStatfs
		r.Args.Set(model.FieldInode, 1)
	case x < 0.95:
		r.Op = model.OpUnlink
		r.Args.Set(model.FieldParentInode, 1)
		r.Args.SetName(g.name())
	default:
		g.release(r)
	}
	if r.Keyword == "" {
		r.Keyword = r.Op.String()
	}
	return r
}

func (g *OplogGenerator) openFile(r *model.Record) {
	h := g.nextHandle
	g.nextHandle++
	if g.rng.Intn(4) == 0 {
		r.Op = model.OpCreate
		r.Args.Set(model.FieldParentInode, 1)
		r.Args.SetName(g.name())
		r.Args.Set(model.FieldMode, 0o644)
		r.Args.Set(model.FieldUmask, 0o22)
	} else {
		r.Op = model.OpOpen
		r.Args.Set(model.FieldInode, g.inode())
		r.Args.Set(model.FieldFlags, 0x8000)
	}
	r.Args.Set(model.FieldHandle, h)
	if r.OK {
		ino := r.Args.Inode
		if r.Op == model.OpCreate {
			ino = g.nextInode
			g.nextInode++
		}
		g.open = append(g.open, &openFile{inode: ino, handle: h})
	}
}

func (g *OplogGenerator) access(r *model.Record) {
	f := g.pick()
	r.Op = model.OpRead
	if g.rng.Float64() < g.WriteRate {
		r.Op = model.OpWrite
	}
	size := g.BlockSize * uint64(1+g.rng.Intn(4))
	offset := f.offset
	if g.rng.Float64() >= g.SequentialRate {
		offset = uint64(g.rng.Int63n(1<<30)) / g.BlockSize * g.BlockSize
	}
	r.Args.Set(model.FieldInode, f.inode)
	r.Args.Set(model.FieldSize, size)
	r.Args.Set(model.FieldOffset, offset)
	r.Args.Set(model.FieldHandle, f.handle)
	if r.OK {
		f.offset = offset + size
		if r.Op == model.OpRead && g.rng.Intn(2) == 0 {
			r.Result = strconv.FormatUint(size, 10)
		}
	}
}

func (g *OplogGenerator) release(r *model.Record) {
	i := g.rng.Intn(len(g.open))
	f := g.open[i]
	r.Op = model.OpRelease
	r.Args.Set(model.FieldInode, f.inode)
	r.Args.Set(model.FieldHandle, f.handle)
	if r.OK {
		g.open = append(g.open[:i], g.open[i+1:]...)
	}
}

func (g *OplogGenerator) pick() *openFile {
	if len(g.open) == 0 {
		f := &openFile{inode: g.inode(), handle: g.nextHandle}
		g.nextHandle++
		g.open = append(g.open, f)
	}
	return g.open[g.rng.Intn(len(g.open))]
}

func (g *OplogGenerator) inode() uint64 {
	return 100 + uint64(g.rng.Intn(32))
}

func (g *OplogGenerator) name() string {
	return generatedNames[g.rng.Intn(len(generatedNames))]
}

// Records returns the next n records.
func (g *OplogGenerator) Records(n int) []*model.Record {
	out := make([]*model.Record, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

// WriteLog writes n lines to w. It returns the number of lines that were
// deliberately broken.
func (g *OplogGenerator) WriteLog(w io.Writer, n int) (int, error) {
	bw := bufio.NewWriter(w)
	broken := 0
	for i := 0; i < n; i++ {
		line := parser.Format(g.Next())
		if g.rng.Float64() < g.MalformedRate {
			line = g.breakLine(line)
			broken++
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return broken, err
		}
	}
	return broken, bw.Flush()
}

// breakLine damages a valid line the way rotation or corruption does.
func (g *OplogGenerator) breakLine(line string) string {
	switch g.rng.Intn(3) {
	case 0:
		return line[:len(line)/2]
	case 1:
		return "garbage " + strconv.Itoa(g.rng.Int())
	default:
		return line[:len(line)-1] + "x>"
	}
}
