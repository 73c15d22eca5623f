// Package util opens operation logs from local files, stdin or S3,
// decompressing gzip and zstd transparently.
package util

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/storage/s3"
)

// Stdin is the path that selects standard input.
const Stdin = "-"

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Info describes a log before it is opened.
type Info struct {
	Path    string
	Size    int64 // stored (possibly compressed) size, -1 when unknown
	ModTime time.Time
	ETag    string
}

// Opener resolves log paths. S3 clients are created on first use.
type Opener struct {
	// Wrap, when set, wraps the stored bytes before decompression. The
	// progress bar hooks in here so it tracks bytes actually read.
	Wrap func(info Info, r io.Reader) io.Reader

	s3cfg    s3.Config
	s3once   sync.Once
	s3client *s3.Client
	s3err    error
}

// NewOpener returns an Opener using cfg for s3:// paths.
func NewOpener(cfg s3.Config) *Opener {
	return &Opener{s3cfg: cfg}
}

func (o *Opener) s3(ctx context.Context) (*s3.Client, error) {
	o.s3once.Do(func() {
		o.s3client, o.s3err = s3.NewClient(ctx, o.s3cfg)
	})
	return o.s3client, o.s3err
}

// Expand turns directories and s3:// prefixes into the logs they contain,
// sorted by path. Other paths are returned unchanged.
func (o *Opener) Expand(ctx context.Context, paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		switch {
		case p == Stdin:
			out = append(out, p)

		case s3.IsURI(p):
			loc, err := s3.ParseURI(p)
			if err != nil {
				return nil, oerrors.Wrap(err, oerrors.CodeInvalidSource, "bad S3 location")
			}
			if !loc.IsPrefix() {
				out = append(out, p)
				continue
			}
			client, err := o.s3(ctx)
			if err != nil {
				return nil, oerrors.Wrap(err, oerrors.CodeInvalidSource, "S3 client")
			}
			objects, err := client.List(ctx, loc)
			if err != nil {
				return nil, oerrors.Wrap(err, oerrors.CodeInvalidSource, "list logs")
			}
			var keys []string
			for _, obj := range objects {
				keys = append(keys, obj.Location.String())
			}
			sort.Strings(keys)
			out = append(out, keys...)

		default:
			fi, err := os.Stat(p)
			if err != nil {
				return nil, statError(p, err)
			}
			if !fi.IsDir() {
				out = append(out, p)
				continue
			}
			entries, err := os.ReadDir(p)
			if err != nil {
				return nil, statError(p, err)
			}
			for _, e := range entries {
				if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
					out = append(out, filepath.Join(p, e.Name()))
				}
			}
		}
	}
	return out, nil
}

// Stat describes path without reading it.
func (o *Opener) Stat(ctx context.Context, path string) (Info, error) {
	switch {
	case path == Stdin:
		return Info{Path: path, Size: -1}, nil

	case s3.IsURI(path):
		loc, err := s3.ParseURI(path)
		if err != nil {
			return Info{}, oerrors.Wrap(err, oerrors.CodeInvalidSource, "bad S3 location")
		}
		client, err := o.s3(ctx)
		if err != nil {
			return Info{}, oerrors.Wrap(err, oerrors.CodeInvalidSource, "S3 client")
		}
		obj, err := client.Stat(ctx, loc)
		if err != nil {
			return Info{}, oerrors.Wrap(err, oerrors.CodeFileNotFound, "stat log").WithContext("path", path)
		}
		return Info{Path: path, Size: obj.Size, ModTime: obj.LastModified, ETag: obj.ETag}, nil

	default:
		fi, err := os.Stat(path)
		if err != nil {
			return Info{}, statError(path, err)
		}
		return Info{Path: path, Size: fi.Size(), ModTime: fi.ModTime()}, nil
	}
}

// Open returns a reader over the decompressed log. Closing it releases
// every underlying resource.
func (o *Opener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	var (
		raw  io.ReadCloser
		info = Info{Path: path, Size: -1}
	)

	switch {
	case path == Stdin:
		raw = io.NopCloser(os.Stdin)

	case s3.IsURI(path):
		loc, err := s3.ParseURI(path)
		if err != nil {
			return nil, oerrors.Wrap(err, oerrors.CodeInvalidSource, "bad S3 location")
		}
		client, err := o.s3(ctx)
		if err != nil {
			return nil, oerrors.Wrap(err, oerrors.CodeInvalidSource, "S3 client")
		}
		body, size, err := client.Reader(ctx, loc)
		if err != nil {
			return nil, oerrors.Wrap(err, oerrors.CodeInvalidSource, "open log").WithContext("path", path)
		}
		raw, info.Size = body, size

	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, statError(path, err)
		}
		if fi, err := f.Stat(); err == nil {
			info.Size, info.ModTime = fi.Size(), fi.ModTime()
		}
		raw = f
	}

	var r io.Reader = raw
	if o.Wrap != nil {
		r = o.Wrap(info, r)
	}

	rc, err := Decompress(r)
	if err != nil {
		raw.Close()
		return nil, oerrors.Wrap(err, oerrors.CodeDecompress, "decompress log").WithContext("path", path)
	}
	return &multiCloser{Reader: rc, closers: []io.Closer{rc, raw}}, nil
}

// OpenFile opens a local or remote log with a default Opener.
func OpenFile(ctx context.Context, path string) (io.ReadCloser, error) {
	return NewOpener(s3.DefaultConfig("")).Open(ctx, path)
}

// Decompress sniffs the stream for a gzip or zstd header and returns a
// decompressing reader, or the input unchanged.
func Decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	head, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		// Multistream is on by default, so concatenated rotations decode
		// as one log.
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return zr, nil

	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil

	default:
		return io.NopCloser(br), nil
	}
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func statError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return oerrors.FileNotFound(path)
	case os.IsPermission(err):
		return oerrors.Wrap(err, oerrors.CodeFilePermission, "permission denied").WithContext("path", path)
	default:
		return oerrors.Wrap(err, oerrors.CodeInvalidSource, "open log").WithContext("path", path)
	}
}

// StripCompression removes compression extensions (.gz, .zst) from a path.
func StripCompression(path string) string {
	lower := strings.ToLower(path)
	for _, ext := range []string{".gz", ".zst", ".zstd"} {
		if strings.HasSuffix(lower, ext) {
			return path[:len(path)-len(ext)]
		}
	}
	return path
}

// DisplayName is the short name used for a log in progress output and
// report metadata.
func DisplayName(path string) string {
	if path == Stdin {
		return "stdin"
	}
	if s3.IsURI(path) {
		return path
	}
	return filepath.Base(path)
}
