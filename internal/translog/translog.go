// Package translog implements the server's durable transaction log: a
// single-file, whole-file-rewrite key-value store keyed by content hash,
// recording which target path a partially-received file belongs to and
// how many bytes of it have been committed.
package translog

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"parcel/internal/errors"
)

// Record is a persisted transaction record, keyed by content hash in Log.
type Record struct {
	TargetPath     string `yaml:"target_path"`
	BytesCommitted int64  `yaml:"bytes_committed"`
}

// document is the on-disk shape: a flat map from hex digest to Record.
type document struct {
	Transactions map[string]Record `yaml:"transactions"`
}

// Log is the process-wide, mutex-guarded transaction log. The zero value
// is not usable; construct with Open.
type Log struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
}

// Open loads path into memory. A missing, unreadable, or unparseable file
// is not an error: the log starts empty and is rewritten on first write,
// matching the corruption policy in the component design.
func Open(path string) (*Log, error) {
	l := &Log{path: path, records: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return l, nil
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return l, nil
	}
	if doc.Transactions != nil {
		l.records = doc.Transactions
	}
	return l, nil
}

// Lookup returns the record for hash, if any.
func (l *Log) Lookup(hash string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[hash]
	return rec, ok
}

// Insert creates or updates the record for hash and rewrites the log file.
func (l *Log) Insert(hash string, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[hash] = rec
	return l.rewriteLocked()
}

// Remove deletes the record for hash (called when bytes-committed reaches
// source-size) and rewrites the log file.
func (l *Log) Remove(hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, hash)
	return l.rewriteLocked()
}

func (l *Log) rewriteLocked() error {
	doc := document{Transactions: l.records}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return errors.NewIoError("marshal_translog", l.path, err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.NewIoError("write_translog", l.path, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.NewIoError("rename_translog", l.path, err)
	}
	return nil
}
