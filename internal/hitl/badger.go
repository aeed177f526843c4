package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

var decisionPrefix = []byte("decision/")

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger
}

// DefaultBadgerConfig returns a durable configuration rooted at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b *badgerLogger) Errorf(format string, args ...interface{})   { b.l.Errorf(format, args...) }
func (b *badgerLogger) Warningf(format string, args ...interface{}) { b.l.Warnf(format, args...) }
func (b *badgerLogger) Infof(format string, args ...interface{})    { b.l.Debugf(format, args...) }
func (b *badgerLogger) Debugf(format string, args ...interface{})   { b.l.Debugf(format, args...) }

// BadgerStore keeps decision logs in an embedded key-value database, keyed
// by log time so iteration yields chronological order.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens or creates the database described by cfg.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent decision store")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create decision store dir %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{l: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open decision store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Append(ctx context.Context, d *DecisionLog) error {
	if d == nil {
		return ErrNilInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	key := append(append([]byte(nil), decisionPrefix...), decisionKey(d)...)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, d.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, val)
	})
}

func (s *BadgerStore) List(ctx context.Context) ([]*DecisionLog, error) {
	var out []*DecisionLog
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = decisionPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var d DecisionLog
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &d)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
