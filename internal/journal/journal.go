// Package journal records which catalog rows have been synthesized, so an
// interrupted batch can resume without redoing finished work.
//
// Entries are msgpack values in a BadgerDB keyed by a blake3 fingerprint of
// everything that shapes a row's output.
package journal

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"
)

// ErrNotFound is returned by Get for keys that were never recorded.
var ErrNotFound = errors.New("journal: not found")

const keyPrefix = "row/"

// Artifact is one file written for a row.
type Artifact struct {
	Path string `msgpack:"path"`
	Hash string `msgpack:"hash"` // hex blake3-256 of the file contents
	Size int    `msgpack:"size"`
}

// Entry describes a completed row.
type Entry struct {
	Key         string     `msgpack:"key"`
	RunID       string     `msgpack:"run_id"`
	Row         int        `msgpack:"row"`
	Speech      string     `msgpack:"speech"`
	Noise       string     `msgpack:"noise"`
	Artifacts   []Artifact `msgpack:"artifacts"`
	CompletedAt time.Time  `msgpack:"completed_at"`
}

// Options configures Open.
type Options struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string
	// InMemory keeps everything in memory.
	InMemory bool
	// Logger receives badger warnings and errors. Nil uses slog.Default.
	Logger *slog.Logger
}

// Journal is safe for concurrent use.
type Journal struct {
	db *badger.DB
}

// Open opens or creates a journal.
func Open(opts Options) (*Journal, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("journal: Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger.With("component", "journal")})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", opts.Dir, err)
	}
	return &Journal{db: db}, nil
}

// Close flushes and closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Done reports whether key has been recorded.
func (j *Journal) Done(key string) (bool, error) {
	err := j.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("journal: %w", err)
	}
	return true, nil
}

// Record stores e under e.Key, replacing any earlier entry.
func (j *Journal) Record(e *Entry) error {
	if e.Key == "" {
		return errors.New("journal: entry has no key")
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+e.Key), data)
	})
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// Get returns the entry recorded under key.
func (j *Journal) Get(key string) (*Entry, error) {
	var data []byte
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("journal: decode %s: %w", key, err)
	}
	return &e, nil
}

// Len returns the number of recorded rows.
func (j *Journal) Len() (int, error) {
	n := 0
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Fingerprint hashes fields into a journal key. Each field is length
// prefixed, so ("ab", "c") and ("a", "bc") differ.
func Fingerprint(fields ...string) string {
	h := blake3.New(32, nil)
	var n [8]byte
	for _, f := range fields {
		binary.LittleEndian.PutUint64(n[:], uint64(len(f)))
		h.Write(n[:])
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the hex blake3-256 digest of data.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// badgerLogger forwards badger warnings and errors to slog and drops the
// chatty info and debug output.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.log.Error(fmt.Sprintf(f, v...)) }
func (l badgerLogger) Warningf(f string, v ...any) { l.log.Warn(fmt.Sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}
