package writer

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

// TableName is the DuckDB table rows are inserted into.
const TableName = "operations"

const createOperations = `
	CREATE TABLE ` + TableName + ` (
		source        VARCHAR NOT NULL,
		line          BIGINT NOT NULL,
		timestamp     TIMESTAMP,
		uid           UINTEGER NOT NULL,
		gid           UINTEGER NOT NULL,
		pid           UINTEGER NOT NULL,
		operation     VARCHAR NOT NULL,
		keyword       VARCHAR NOT NULL,
		ok            BOOLEAN NOT NULL,
		errno         VARCHAR,
		inode         UBIGINT,
		parent_inode  UBIGINT,
		name          VARCHAR,
		size          UBIGINT,
		"offset"      UBIGINT,
		file_handle   UBIGINT,
		flags         UBIGINT,
		mode          UBIGINT,
		umask         UBIGINT,
		setmask       UBIGINT,
		result        VARCHAR,
		raw_args      VARCHAR,
		tags          VARCHAR,
		duration      DOUBLE NOT NULL,
		stream        VARCHAR,
		verdict       VARCHAR,
		seek_distance UBIGINT
	)
`

// DuckDBWriter writes rows into a DuckDB database file so they can be
// queried with SQL afterwards.
type DuckDBWriter struct {
	cfg  Config
	path string
	db   *sql.DB
	stmt *sql.Stmt

	mu               sync.Mutex
	totalRowsWritten int64
	closed           bool

	// Batch accumulator
	batch []flat
}

// NewDuckDBWriter creates path as a new DuckDB database holding an empty
// operations table. An existing file is replaced.
func NewDuckDBWriter(path string, cfg Config) (*DuckDBWriter, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to replace %s: %w", path, err)
	}
	os.Remove(path + ".wal")

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	if _, err := db.Exec(createOperations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = `"` + c + `"`
	}
	stmt, err := db.Prepare(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		TableName, strings.Join(quoted, ", "), placeholders))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &DuckDBWriter{
		cfg:   cfg,
		path:  path,
		db:    db,
		stmt:  stmt,
		batch: make([]flat, 0, cfg.BatchSize),
	}, nil
}

// WriteRow queues a row and inserts the batch when it is full.
func (w *DuckDBWriter) WriteRow(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("duckdb writer is closed")
	}
	w.batch = append(w.batch, flatten(row))
	if len(w.batch) >= w.cfg.BatchSize {
		return w.flushBatch()
	}
	return nil
}

// flushBatch writes the current batch in one transaction.
func (w *DuckDBWriter) flushBatch() error {
	if len(w.batch) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt := tx.Stmt(w.stmt)
	for _, f := range w.batch {
		if _, err := stmt.Exec(values(f)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert row %s:%d: %w", f.Source, f.Line, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.totalRowsWritten += int64(len(w.batch))
	w.batch = w.batch[:0]
	return nil
}

// values returns f's column values in columns order.
func values(f flat) []interface{} {
	var ts interface{}
	if f.Timestamp != nil {
		ts = f.Timestamp.UTC()
	}
	var tags interface{}
	if len(f.Tags) > 0 {
		tags = strings.Join(f.Tags, " ")
	}
	return []interface{}{
		f.Source, f.Line, ts, f.UID, f.GID, f.PID,
		f.Operation, f.Keyword, f.OK, nullString(f.Errno),
		nullUint(f.Inode), nullUint(f.ParentInode), nullString(f.Name),
		nullUint(f.Size), nullUint(f.Offset), nullUint(f.Handle),
		nullUint(f.Flags), nullUint(f.Mode), nullUint(f.Umask), nullUint(f.SetMask),
		nullString(f.Result), nullString(f.RawArgs), tags, f.Duration,
		nullString(f.Stream), nullString(f.Verdict), nullUint(f.SeekDistance),
	}
}

func nullString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullUint(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// Flush flushes any buffered data.
func (w *DuckDBWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushBatch()
}

// Close inserts the remaining rows and closes the database.
func (w *DuckDBWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.flushBatch()
	w.stmt.Close()
	if cerr := w.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// RowsWritten returns the total number of rows written.
func (w *DuckDBWriter) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalRowsWritten
}
