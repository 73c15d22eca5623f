// Package model defines the operation record recovered from one line of a
// filesystem client's access log.
package model

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Operation is the kind of filesystem call a log line describes.
type Operation uint8

const (
	OpUnknown Operation = iota
	OpOpen
	OpRead
	OpWrite
	OpGetattr
	OpSetattr
	OpStatfs
	OpCreate
	OpUnlink
	OpFlush
	OpLookup
	OpRelease

	// NumOperations is the size of an array indexed by Operation.
	NumOperations
)

var opNames = [NumOperations]string{
	OpUnknown: "unknown",
	OpOpen:    "open",
	OpRead:    "read",
	OpWrite:   "write",
	OpGetattr: "getattr",
	OpSetattr: "setattr",
	OpStatfs:  "statfs",
	OpCreate:  "create",
	OpUnlink:  "unlink",
	OpFlush:   "flush",
	OpLookup:  "lookup",
	OpRelease: "release",
}

// String returns the log keyword of the operation.
func (o Operation) String() string {
	if o < NumOperations {
		return opNames[o]
	}
	return "unknown"
}

// ParseOperation maps a log keyword to an Operation. Keywords outside the
// fixed vocabulary map to OpUnknown.
func ParseOperation(keyword string) Operation {
	for op := OpOpen; op < NumOperations; op++ {
		if opNames[op] == keyword {
			return op
		}
	}
	return OpUnknown
}

// IsIO reports whether the operation transfers file data.
func (o Operation) IsIO() bool {
	return o == OpRead || o == OpWrite
}

// Field identifies one argument slot of an operation.
type Field uint16

const (
	FieldInode Field = 1 << iota
	FieldParentInode
	FieldName
	FieldSize
	FieldOffset
	FieldHandle
	FieldFlags
	FieldMode
	FieldUmask
	FieldSetMask
)

var fieldNames = map[Field]string{
	FieldInode:       "inode",
	FieldParentInode: "parent_inode",
	FieldName:        "name",
	FieldSize:        "size",
	FieldOffset:      "offset",
	FieldHandle:      "file_handle",
	FieldFlags:       "flags",
	FieldMode:        "mode",
	FieldUmask:       "umask",
	FieldSetMask:     "setmask",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return "field(" + strconv.Itoa(int(f)) + ")"
}

// Hex reports whether the field is rendered in hexadecimal in the log.
func (f Field) Hex() bool {
	switch f {
	case FieldFlags, FieldMode, FieldUmask, FieldSetMask:
		return true
	default:
		return false
	}
}

// Args holds the decoded argument list. Fields not set in Present are
// absent for the operation and hold their zero value.
type Args struct {
	Present Field

	Inode       uint64
	ParentInode uint64
	Size        uint64
	Offset      uint64
	Handle      uint64
	Flags       uint64
	Mode        uint64
	Umask       uint64
	SetMask     uint64
	Name        string
}

// Has reports whether field f was present on the line.
func (a Args) Has(f Field) bool {
	return a.Present&f != 0
}

// Set stores a numeric field and marks it present.
func (a *Args) Set(f Field, v uint64) {
	switch f {
	case FieldInode:
		a.Inode = v
	case FieldParentInode:
		a.ParentInode = v
	case FieldSize:
		a.Size = v
	case FieldOffset:
		a.Offset = v
	case FieldHandle:
		a.Handle = v
	case FieldFlags:
		a.Flags = v
	case FieldMode:
		a.Mode = v
	case FieldUmask:
		a.Umask = v
	case FieldSetMask:
		a.SetMask = v
	default:
		return
	}
	a.Present |= f
}

// Get returns a numeric field and whether it is present.
func (a Args) Get(f Field) (uint64, bool) {
	if !a.Has(f) {
		return 0, false
	}
	switch f {
	case FieldInode:
		return a.Inode, true
	case FieldParentInode:
		return a.ParentInode, true
	case FieldSize:
		return a.Size, true
	case FieldOffset:
		return a.Offset, true
	case FieldHandle:
		return a.Handle, true
	case FieldFlags:
		return a.Flags, true
	case FieldMode:
		return a.Mode, true
	case FieldUmask:
		return a.Umask, true
	case FieldSetMask:
		return a.SetMask, true
	}
	return 0, false
}

// SetName stores the name field and marks it present.
func (a *Args) SetName(name string) {
	a.Name = name
	a.Present |= FieldName
}

// Record is one parsed log line.
type Record struct {
	// Line is the 1-based position in the source log, or 0 for records
	// built in memory.
	Line int64

	// Timestamp is the zero time when the line carried none.
	Timestamp time.Time

	UID uint32
	GID uint32
	PID uint32

	Op Operation
	// Keyword is the operation keyword as written on the line.
	Keyword string
	Args    Args
	// RawArgs keeps the undecoded argument text of OpUnknown records.
	RawArgs string

	OK bool
	// Errno is the status token of a failed operation.
	Errno string
	// Result is the parenthesized result payload without its parentheses.
	Result string
	// Tags are bracketed flags between the payload and the duration,
	// excluding the handle tag.
	Tags []string

	// Duration is the elapsed time of the operation in seconds.
	Duration float64
}

// HasTimestamp reports whether the line carried a timestamp.
func (r *Record) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// ResultBytes returns the byte count reported in the result payload of a
// read, when the payload is a bare integer.
func (r *Record) ResultBytes() (uint64, bool) {
	if r.Op != OpRead || r.Result == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(r.Result, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// TransferBytes returns the bytes moved by a read or write. Reads prefer the
// returned byte count over the requested size.
func (r *Record) TransferBytes() uint64 {
	if !r.Op.IsIO() {
		return 0
	}
	if n, ok := r.ResultBytes(); ok {
		return n
	}
	return r.Args.Size
}

// DurationValue returns Duration as a time.Duration.
func (r *Record) DurationValue() time.Duration {
	return time.Duration(math.Round(r.Duration * float64(time.Second)))
}

// StreamKey identifies an I/O stream for offset continuity tracking.
type StreamKey struct {
	// Handle is true when ID is a file handle, false when it is an inode.
	Handle bool
	ID     uint64
}

func (k StreamKey) String() string {
	if k.Handle {
		return fmt.Sprintf("fh:%d", k.ID)
	}
	return fmt.Sprintf("ino:%d", k.ID)
}

// StreamKey resolves the record's stream: its file handle when present,
// else its inode.
func (r *Record) StreamKey() (StreamKey, bool) {
	if r.Args.Has(FieldHandle) {
		return StreamKey{Handle: true, ID: r.Args.Handle}, true
	}
	if r.Args.Has(FieldInode) {
		return StreamKey{ID: r.Args.Inode}, true
	}
	return StreamKey{}, false
}
