package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidRecord is returned by Validate for records that break their
// operation's argument schema or carry impossible numeric values.
var ErrInvalidRecord = errors.New("model: invalid record")

// Schema describes the argument list of a known operation.
type Schema struct {
	// Fields lists the positional arguments in log order.
	Fields []Field
	// Optional is the number of trailing Fields that may be omitted.
	Optional int
	// HandleTag marks operations whose file handle is reported in the
	// trailing handle tag rather than the argument list.
	HandleTag bool
}

var schemas = [NumOperations]Schema{
	OpOpen:    {Fields: []Field{FieldInode, FieldFlags}, HandleTag: true},
	OpRead:    {Fields: []Field{FieldInode, FieldSize, FieldOffset, FieldHandle}},
	OpWrite:   {Fields: []Field{FieldInode, FieldSize, FieldOffset, FieldHandle}},
	OpGetattr: {Fields: []Field{FieldInode, FieldFlags}, Optional: 1},
	OpSetattr: {Fields: []Field{FieldInode, FieldSetMask, FieldMode}},
	OpStatfs:  {Fields: []Field{FieldInode}},
	OpCreate:  {Fields: []Field{FieldParentInode, FieldName, FieldMode, FieldUmask}, HandleTag: true},
	OpUnlink:  {Fields: []Field{FieldParentInode, FieldName}},
	OpFlush:   {Fields: []Field{FieldInode, FieldHandle}},
	OpLookup:  {Fields: []Field{FieldParentInode, FieldName}},
	OpRelease: {Fields: []Field{FieldInode, FieldHandle}},
}

// SchemaFor returns the argument schema of a known operation.
func SchemaFor(op Operation) (Schema, bool) {
	if op == OpUnknown || op >= NumOperations {
		return Schema{}, false
	}
	return schemas[op], true
}

// NameIndex returns the position of the free-form name argument, or -1.
func (s Schema) NameIndex() int {
	for i, f := range s.Fields {
		if f == FieldName {
			return i
		}
	}
	return -1
}

// MinArgs is the smallest valid argument count.
func (s Schema) MinArgs() int {
	return len(s.Fields) - s.Optional
}

// Required is the set of fields every record of the operation carries.
func (s Schema) Required() Field {
	var set Field
	for _, f := range s.Fields[:s.MinArgs()] {
		set |= f
	}
	return set
}

// Allowed is the set of fields a record of the operation may carry.
func (s Schema) Allowed() Field {
	var set Field
	for _, f := range s.Fields {
		set |= f
	}
	if s.HandleTag {
		set |= FieldHandle
	}
	return set
}

// Validate checks the record against its operation's schema.
func (r *Record) Validate() error {
	if math.IsNaN(r.Duration) || math.IsInf(r.Duration, 0) || r.Duration < 0 {
		return fmt.Errorf("%w: duration %v", ErrInvalidRecord, r.Duration)
	}
	schema, ok := SchemaFor(r.Op)
	if !ok {
		if r.Args.Present != 0 {
			return fmt.Errorf("%w: unknown operation %q carries decoded arguments",
				ErrInvalidRecord, r.Keyword)
		}
		return nil
	}
	if missing := schema.Required() &^ r.Args.Present; missing != 0 {
		return fmt.Errorf("%w: %s missing %s", ErrInvalidRecord, r.Op, fieldList(missing))
	}
	if extra := r.Args.Present &^ schema.Allowed(); extra != 0 {
		return fmt.Errorf("%w: %s does not take %s", ErrInvalidRecord, r.Op, fieldList(extra))
	}
	if r.Args.Has(FieldName) && r.Args.Name == "" {
		return fmt.Errorf("%w: %s with empty name", ErrInvalidRecord, r.Op)
	}
	if r.Op.IsIO() && r.Args.Offset > math.MaxUint64-r.Args.Size {
		return fmt.Errorf("%w: %s offset %d + size %d overflows",
			ErrInvalidRecord, r.Op, r.Args.Offset, r.Args.Size)
	}
	return nil
}

func fieldList(set Field) string {
	var names []string
	for f := FieldInode; f <= FieldSetMask; f <<= 1 {
		if set&f != 0 {
			names = append(names, f.String())
		}
	}
	return strings.Join(names, ",")
}
