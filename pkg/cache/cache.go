// Package cache stores finished analysis reports keyed by the identity of
// their input logs and the policy they were computed with, so re-analysing
// unchanged logs is a lookup.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/logflow/oplog/pkg/analysis"
	"github.com/logflow/oplog/pkg/parser"
	"github.com/logflow/oplog/pkg/util"
)

// keyVersion changes whenever the report layout does, orphaning old entries.
const keyVersion = 1

// Cache stores reports.
type Cache interface {
	// Get returns the cached report, or ok == false on a miss.
	Get(ctx context.Context, key string) (r *analysis.Report, ok bool, err error)
	Put(ctx context.Context, key string, r *analysis.Report) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type keyInput struct {
	Version int             `json:"v"`
	Logs    []keyLog        `json:"logs"`
	Policy  analysis.Policy `json:"policy"`
	Errors  string          `json:"errors"`
	Limit   int64           `json:"max_errors"`
}

type keyLog struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	ETag    string    `json:"etag,omitempty"`
}

// Key derives the cache key for analysing logs with p. ok is false when a
// log has no stable identity, such as standard input.
func Key(logs []util.Info, p analysis.Policy, scan parser.Config) (key string, ok bool) {
	in := keyInput{Version: keyVersion, Policy: p, Errors: scan.ErrorPolicy.String(), Limit: scan.MaxErrors}
	for _, l := range logs {
		if l.Size < 0 {
			return "", false
		}
		in.Logs = append(in.Logs, keyLog{Path: l.Path, Size: l.Size, ModTime: l.ModTime.UTC(), ETag: l.ETag})
	}

	data, err := json.Marshal(in)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.Mutex
	reports map[string][]byte
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{reports: make(map[string][]byte)}
}

// Get implements Cache. Reports are stored encoded so callers never share
// a mutable report.
func (m *Memory) Get(_ context.Context, key string) (*analysis.Report, bool, error) {
	m.mu.Lock()
	data, ok := m.reports[key]
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	r, err := decode(data)
	return r, err == nil, err
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, r *analysis.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.reports[key] = data
	m.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.reports, key)
	m.mu.Unlock()
	return nil
}

// Close implements Cache.
func (m *Memory) Close() error { return nil }

func decode(data []byte) (*analysis.Report, error) {
	var r analysis.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
