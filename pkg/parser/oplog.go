package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/logflow/oplog/internal/model"
)

// TimestampLayout is the layout the filesystem client uses for line
// timestamps.
const TimestampLayout = "2006.01.02 15:04:05.000000"

var timestampLayouts = []string{
	"2006.01.02 15:04:05.999999999",
	time.RFC3339Nano,
}

// LineParser converts one access-log line into a model.Record.
//
// Line shape:
//
//	[ts] [uid:U,gid:G,pid:P] op (args): STATUS (payload) [tag]... [handle:HEX] <duration>
//
// The line is taken apart from both ends: the duration, trailing tags and
// result payload are cut from the right, the timestamp and identity from
// the left, which leaves "op (args): STATUS". The argument list ends at the
// last "): " so names may contain any character.
type LineParser struct{}

// NewLineParser creates a LineParser.
func NewLineParser() *LineParser {
	return &LineParser{}
}

// Parse parses a single line. On failure it returns a nil record and an
// error wrapping one of ErrMalformed, ErrSchemaMismatch, ErrBadDuration or
// ErrBadStatus; it never returns a partially populated record.
func (p *LineParser) Parse(line string) (*model.Record, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	rest, duration, err := cutDuration(s)
	if err != nil {
		return nil, err
	}
	rec := &model.Record{Duration: duration}

	// Timestamp and identity.
	id := strings.Index(rest, "[uid:")
	if id < 0 {
		return nil, fmt.Errorf("%w: missing identity bracket", ErrMalformed)
	}
	if ts := strings.TrimSpace(rest[:id]); ts != "" {
		if rec.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
	}
	end := strings.IndexByte(rest[id:], ']')
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated identity bracket", ErrMalformed)
	}
	if err := parseIdentity(rest[id+1:id+end], rec); err != nil {
		return nil, err
	}
	body := strings.TrimSpace(rest[id+end+1:])

	// Trailing tags and the result payload.
	body, tags := cutTags(body)
	body, rec.Result = cutPayload(body)

	sep := strings.LastIndex(body, "): ")
	if sep < 0 {
		if strings.HasSuffix(body, "):") {
			return nil, fmt.Errorf("%w: missing status", ErrBadStatus)
		}
		return nil, fmt.Errorf("%w: missing argument list", ErrMalformed)
	}
	if err := parseStatus(strings.TrimSpace(body[sep+3:]), rec); err != nil {
		return nil, err
	}

	call := body[:sep]
	open := strings.IndexByte(call, '(')
	if open < 0 {
		return nil, fmt.Errorf("%w: missing argument list", ErrMalformed)
	}
	rec.Keyword = strings.TrimSpace(call[:open])
	if !isKeyword(rec.Keyword) {
		return nil, fmt.Errorf("%w: bad operation keyword %q", ErrMalformed, rec.Keyword)
	}
	args := call[open+1:]

	rec.Op = model.ParseOperation(rec.Keyword)
	schema, known := model.SchemaFor(rec.Op)
	if !known {
		rec.RawArgs = args
		rec.Tags = tags.all()
		return rec, nil
	}

	if err := decodeArgs(rec, args, schema); err != nil {
		return nil, err
	}
	if schema.HandleTag && tags.hasHandle {
		rec.Args.Set(model.FieldHandle, tags.handle)
		rec.Tags = tags.plain
	} else {
		rec.Tags = tags.all()
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return rec, nil
}

func cutDuration(s string) (string, float64, error) {
	lt := strings.LastIndexByte(s, '<')
	if !strings.HasSuffix(s, ">") || lt < 0 {
		return "", 0, fmt.Errorf("%w: missing duration", ErrMalformed)
	}
	raw := strings.TrimSpace(s[lt+1 : len(s)-1])
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", 0, fmt.Errorf("%w: %q", ErrBadDuration, raw)
	}
	return strings.TrimSpace(s[:lt]), v, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, s)
}

// parseIdentity decodes "uid:U,gid:G,pid:P".
func parseIdentity(s string, rec *model.Record) error {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return fmt.Errorf("%w: bad identity %q", ErrMalformed, s)
	}
	targets := []*uint32{&rec.UID, &rec.GID, &rec.PID}
	for i, key := range []string{"uid", "gid", "pid"} {
		k, v, ok := strings.Cut(strings.TrimSpace(parts[i]), ":")
		if !ok || k != key {
			return fmt.Errorf("%w: bad identity %q", ErrMalformed, s)
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: bad %s %q", ErrMalformed, key, v)
		}
		*targets[i] = uint32(n)
	}
	return nil
}

type lineTags struct {
	plain     []string
	handleRaw string
	handle    uint64
	hasHandle bool
}

// all returns every tag in line order, including an unused handle tag.
func (t lineTags) all() []string {
	if !t.hasHandle {
		return t.plain
	}
	return append(append([]string(nil), t.plain...), t.handleRaw)
}

// cutTags strips trailing bracketed tags. "handle:HEX" and "fh:N" tags
// carry the file handle of open and create.
func cutTags(body string) (string, lineTags) {
	var tags lineTags
	var found []string
	for strings.HasSuffix(body, "]") {
		open := strings.LastIndexByte(body, '[')
		if open < 0 {
			break
		}
		found = append(found, body[open+1:len(body)-1])
		body = strings.TrimSpace(body[:open])
	}

	// found is in reverse line order.
	for i := len(found) - 1; i >= 0; i-- {
		tag := found[i]
		if h, ok := parseHandleTag(tag); ok {
			tags.handle, tags.handleRaw, tags.hasHandle = h, tag, true
			continue
		}
		tags.plain = append(tags.plain, tag)
	}
	return body, tags
}

func parseHandleTag(tag string) (uint64, bool) {
	if v, ok := strings.CutPrefix(tag, "handle:"); ok {
		n, err := parseNumber(v, true)
		return n, err == nil
	}
	if v, ok := strings.CutPrefix(tag, "fh:"); ok {
		n, err := parseNumber(v, false)
		return n, err == nil
	}
	return 0, false
}

// cutPayload strips a trailing parenthesized result payload. A closing
// parenthesis only starts a payload when a status precedes it; otherwise it
// belongs to the argument list.
func cutPayload(body string) (string, string) {
	if !strings.HasSuffix(body, ")") {
		return body, ""
	}
	depth := 0
	for i := len(body) - 1; i >= 0; i-- {
		switch body[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				head := strings.TrimSpace(body[:i])
				if !strings.Contains(head, "): ") {
					return body, ""
				}
				return head, body[i+1 : len(body)-1]
			}
		}
	}
	return body, ""
}

func parseStatus(status string, rec *model.Record) error {
	if status == "OK" {
		rec.OK = true
		return nil
	}
	if !isErrnoToken(status) {
		return fmt.Errorf("%w: %q", ErrBadStatus, status)
	}
	rec.Errno = status
	return nil
}

// isErrnoToken accepts symbolic errno names ("ENOENT") and strerror text
// ("no such file or directory", "Input/output error").
func isErrnoToken(s string) bool {
	if s == "" || len(s) > 64 || !isLetter(s[0]) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isLetter(c) || isDigit(c) {
			continue
		}
		switch c {
		case ' ', '/', '-', '_', '.', '\'':
			continue
		}
		return false
	}
	return true
}

func isKeyword(s string) bool {
	if s == "" || !(isLetter(s[0]) || s[0] == '_') {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !(isLetter(s[i]) || isDigit(s[i]) || s[i] == '_') {
			return false
		}
	}
	return true
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

// decodeArgs decodes the argument list positionally against schema.
func decodeArgs(rec *model.Record, args string, schema model.Schema) error {
	var fields []string
	if idx := schema.NameIndex(); idx >= 0 {
		var err error
		if fields, err = splitAroundName(args, idx, len(schema.Fields)-idx-1); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSchemaMismatch, rec.Op, err)
		}
	} else {
		fields = strings.Split(args, ",")
		if len(fields) < schema.MinArgs() || len(fields) > len(schema.Fields) {
			return fmt.Errorf("%w: %s takes %d arguments, got %d",
				ErrSchemaMismatch, rec.Op, len(schema.Fields), len(fields))
		}
	}

	for i, raw := range fields {
		f := schema.Fields[i]
		if f == model.FieldName {
			rec.Args.SetName(raw)
			continue
		}
		v, err := parseNumber(strings.TrimSpace(raw), f.Hex())
		if err != nil {
			return fmt.Errorf("%w: %s %s %q", ErrSchemaMismatch, rec.Op, f, raw)
		}
		rec.Args.Set(f, v)
	}
	return nil
}

// splitAroundName splits args into before numeric fields taken from the
// left, after numeric fields taken from the right and the name in between,
// so commas and parentheses inside the name are kept verbatim.
func splitAroundName(args string, before, after int) ([]string, error) {
	fields := make([]string, 0, before+after+1)
	rest := args
	for i := 0; i < before; i++ {
		c := strings.IndexByte(rest, ',')
		if c < 0 {
			return nil, fmt.Errorf("too few arguments")
		}
		fields = append(fields, rest[:c])
		rest = rest[c+1:]
	}

	tail := make([]string, after)
	for i := after - 1; i >= 0; i-- {
		c := strings.LastIndexByte(rest, ',')
		if c < 0 {
			return nil, fmt.Errorf("too few arguments")
		}
		tail[i] = rest[c+1:]
		rest = rest[:c]
	}
	if rest == "" {
		return nil, fmt.Errorf("empty name")
	}
	fields = append(fields, rest)
	return append(fields, tail...), nil
}

func parseNumber(s string, hex bool) (uint64, error) {
	if hex {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		return strconv.ParseUint(s, 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
