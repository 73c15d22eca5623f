package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/logflow/oplog/internal/model"
)

// Format renders a record as an access-log line that Parse reads back into
// an equal record. Timestamps are written with microsecond precision.
func Format(r *model.Record) string {
	var b strings.Builder
	if r.HasTimestamp() {
		b.WriteString(r.Timestamp.UTC().Format(TimestampLayout))
		b.WriteByte(' ')
	}

	keyword := r.Keyword
	if keyword == "" {
		keyword = r.Op.String()
	}
	fmt.Fprintf(&b, "[uid:%d,gid:%d,pid:%d] %s (", r.UID, r.GID, r.PID, keyword)

	schema, known := model.SchemaFor(r.Op)
	if known {
		writeArgs(&b, r.Args, schema)
	} else {
		b.WriteString(r.RawArgs)
	}
	b.WriteString("): ")

	if r.OK {
		b.WriteString("OK")
	} else {
		b.WriteString(r.Errno)
	}
	if r.Result != "" {
		b.WriteString(" (")
		b.WriteString(r.Result)
		b.WriteByte(')')
	}
	for _, tag := range r.Tags {
		b.WriteString(" [")
		b.WriteString(tag)
		b.WriteByte(']')
	}
	if known && schema.HandleTag && r.Args.Has(model.FieldHandle) {
		fmt.Fprintf(&b, " [fh:%d]", r.Args.Handle)
	}

	b.WriteString(" <")
	b.WriteString(strconv.FormatFloat(r.Duration, 'f', -1, 64))
	b.WriteByte('>')
	return b.String()
}

func writeArgs(b *strings.Builder, args model.Args, schema model.Schema) {
	for i, f := range schema.Fields {
		if !args.Has(f) {
			// Only trailing optional fields may be absent.
			break
		}
		if i > 0 {
			b.WriteByte(',')
		}
		switch {
		case f == model.FieldName:
			b.WriteString(args.Name)
		case f.Hex():
			v, _ := args.Get(f)
			fmt.Fprintf(b, "0x%x", v)
		default:
			v, _ := args.Get(f)
			b.WriteString(strconv.FormatUint(v, 10))
		}
	}
}
