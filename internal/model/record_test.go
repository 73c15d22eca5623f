package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperation(t *testing.T) {
	for op := OpOpen; op < NumOperations; op++ {
		assert.Equal(t, op, ParseOperation(op.String()))
	}
	assert.Equal(t, OpUnknown, ParseOperation("fallocate"))
	assert.Equal(t, OpUnknown, ParseOperation("READ"))
	assert.Equal(t, "unknown", Operation(200).String())
}

func TestArgs(t *testing.T) {
	var a Args
	a.Set(FieldSize, 4096)
	a.SetName("x")

	assert.True(t, a.Has(FieldSize))
	assert.True(t, a.Has(FieldName))
	assert.False(t, a.Has(FieldOffset))

	v, ok := a.Get(FieldSize)
	assert.True(t, ok)
	assert.Equal(t, uint64(4096), v)

	_, ok = a.Get(FieldOffset)
	assert.False(t, ok)
	assert.Equal(t, "file_handle", FieldHandle.String())
	assert.True(t, FieldMode.Hex())
	assert.False(t, FieldInode.Hex())
}

func TestStreamKey(t *testing.T) {
	r := &Record{Op: OpRead}
	_, ok := r.StreamKey()
	assert.False(t, ok)

	r.Args.Set(FieldInode, 12)
	key, ok := r.StreamKey()
	require.True(t, ok)
	assert.Equal(t, "ino:12", key.String())

	r.Args.Set(FieldHandle, 3)
	key, _ = r.StreamKey()
	assert.Equal(t, StreamKey{Handle: true, ID: 3}, key)
}

func TestTransferBytes(t *testing.T) {
	r := &Record{Op: OpRead}
	r.Args.Set(FieldSize, 4096)
	assert.Equal(t, uint64(4096), r.TransferBytes())

	r.Result = "17"
	assert.Equal(t, uint64(17), r.TransferBytes())

	r.Result = "1,[attr]"
	assert.Equal(t, uint64(4096), r.TransferBytes())

	w := &Record{Op: OpWrite, Result: "5"}
	w.Args.Set(FieldSize, 100)
	assert.Equal(t, uint64(100), w.TransferBytes())

	assert.Zero(t, (&Record{Op: OpGetattr}).TransferBytes())
}

func TestDurationValue(t *testing.T) {
	r := &Record{Duration: 0.000123}
	assert.Equal(t, 123*time.Microsecond, r.DurationValue())
}

func TestValidate(t *testing.T) {
	valid := func() *Record {
		r := &Record{Op: OpRead, OK: true, Duration: 0.1}
		r.Args.Set(FieldInode, 1)
		r.Args.Set(FieldSize, 10)
		r.Args.Set(FieldOffset, 0)
		r.Args.Set(FieldHandle, 2)
		return r
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"negative duration", func(r *Record) { r.Duration = -1 }},
		{"nan duration", func(r *Record) { r.Duration = math.NaN() }},
		{"missing field", func(r *Record) { r.Args.Present &^= FieldOffset }},
		{"extra field", func(r *Record) { r.Args.Set(FieldMode, 1) }},
		{"overflow", func(r *Record) { r.Args.Offset = math.MaxUint64 }},
		{"unknown with args", func(r *Record) { r.Op = OpUnknown }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidRecord)
		})
	}

	create := &Record{Op: OpCreate}
	create.Args.Set(FieldParentInode, 1)
	create.Args.SetName("")
	create.Args.Set(FieldMode, 0o644)
	create.Args.Set(FieldUmask, 0o22)
	assert.ErrorIs(t, create.Validate(), ErrInvalidRecord)

	create.Args.SetName("f")
	create.Args.Set(FieldHandle, 4)
	assert.NoError(t, create.Validate())

	getattr := &Record{Op: OpGetattr}
	getattr.Args.Set(FieldInode, 1)
	assert.NoError(t, getattr.Validate())
}
