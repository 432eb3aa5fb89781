package audit

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/dispatch/internal/errors"
)

const eventKeyPrefix = "evt/"

// BadgerConfig configures a BadgerSink.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// Logger receives Badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// BadgerSink stores events in an embedded Badger database with
// synchronous writes.
type BadgerSink struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerSink opens or creates the database described by cfg.
func OpenBadgerSink(cfg BadgerConfig) (*BadgerSink, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("path is required for persistent audit database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create audit database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

func eventKey(requestID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", eventKeyPrefix, requestID, seq))
}

// Write implements Sink. Keys sort by sequence within a request. An event
// is stored only if its key is free and its predecessor is present.
func (s *BadgerSink) Write(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	key := eventKey(e.RequestID, e.Seq)

	return s.db.Update(func(txn *badger.Txn) error {
		switch _, err := txn.Get(key); {
		case err == nil:
			return conflict(e, "is already recorded")
		case !stderrors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if e.Seq > 1 {
			if _, err := txn.Get(eventKey(e.RequestID, e.Seq-1)); stderrors.Is(err, badger.ErrKeyNotFound) {
				return conflict(e, "has no recorded predecessor")
			} else if err != nil {
				return err
			}
		}
		return txn.Set(key, data)
	})
}

// Events implements Reader.
func (s *BadgerSink) Events(_ context.Context, requestID string) ([]Event, error) {
	prefix := []byte(eventKeyPrefix + requestID + "/")
	var out []Event

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			// a request id containing "/" shares a prefix with others
			if e.RequestID == requestID {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditReadFailed, "failed to read audit events", err)
	}
	if len(out) == 0 {
		return nil, errors.NewAuditNotFoundError(requestID)
	}
	return out, nil
}

// RequestIDs implements Reader, sorted.
func (s *BadgerSink) RequestIDs(context.Context) ([]string, error) {
	seen := make(map[string]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), eventKeyPrefix)
			if i := strings.LastIndex(key, "/"); i > 0 {
				seen[key[:i]] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditReadFailed, "failed to list audit requests", err)
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close closes the database.
func (s *BadgerSink) Close() error {
	return s.db.Close()
}
