package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/dispatch/internal/errors"
)

// ErrEventExists is returned by sinks for an event that does not extend the
// stored chain of its request. Sinks never overwrite a recorded event.
var ErrEventExists = errors.New(errors.ErrCodeAuditConflict, "audit event conflicts with the recorded trail")

func conflict(e Event, detail string) error {
	return fmt.Errorf("%w: %s#%d %s", ErrEventExists, e.RequestID, e.Seq, detail)
}

// Sink persists events. Write must not return before the event is durable,
// and must refuse an event whose seq does not follow the last one stored
// for its request.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Reader reads back the events of a request in append order.
type Reader interface {
	Events(ctx context.Context, requestID string) ([]Event, error)
	RequestIDs(ctx context.Context) ([]string, error)
}

// Store is a sink that can also be read.
type Store interface {
	Sink
	Reader
	Close() error
}

type head struct {
	seq  int64
	hash string
}

// Log appends events for any number of concurrent runs. It assigns each
// event its sequence number and chains it to the previous event of the
// same request.
type Log struct {
	mu    sync.Mutex
	sink  Sink
	heads map[string]head
	now   func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates a log writing to sink.
func NewLog(sink Sink, opts ...Option) *Log {
	l := &Log{
		sink:  sink,
		heads: make(map[string]head),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Begin claims requestID for a new run. It fails with AUDIT-006 when this
// log has already written events for the id, or when the sink, if it can
// be read, holds any. A successful Begin starts the chain at seq 1.
func (l *Log) Begin(ctx context.Context, requestID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.heads[requestID]; ok {
		return errors.NewAuditDuplicateIDError(requestID)
	}
	if r, ok := l.sink.(Reader); ok {
		events, err := r.Events(ctx, requestID)
		switch {
		case errors.HasCode(err, errors.ErrCodeAuditNotFound):
		case err != nil:
			return err
		case len(events) > 0:
			return errors.NewAuditDuplicateIDError(requestID)
		}
	}

	l.heads[requestID] = head{}
	return nil
}

// Append records one event. taskName is empty for run-level events.
// The event is durable when Append returns without error; on error the
// chain does not advance.
func (l *Log) Append(ctx context.Context, requestID, taskName string, typ EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to encode payload", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.heads[requestID]
	e := Event{
		RequestID: requestID,
		Seq:       h.seq + 1,
		TaskName:  taskName,
		Type:      typ,
		Timestamp: l.now().UTC(),
		Payload:   data,
		PrevHash:  h.hash,
	}
	if e.Hash, err = e.ComputeHash(); err != nil {
		return Event{}, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to hash event", err)
	}

	if err := l.sink.Write(ctx, e); err != nil {
		return Event{}, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to write audit event", err)
	}

	l.heads[requestID] = head{seq: e.Seq, hash: e.Hash}
	return e, nil
}

// MemorySink keeps serialized events in memory. Tests and dry runs use it.
type MemorySink struct {
	mu     sync.Mutex
	order  []string
	events map[string][][]byte
}

// NewMemorySink creates an empty in-memory store.
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make(map[string][][]byte)}
}

// Write implements Sink.
func (m *MemorySink) Write(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, seen := m.events[e.RequestID]
	if e.Seq != int64(len(stored))+1 {
		return conflict(e, fmt.Sprintf("after %d stored events", len(stored)))
	}
	if !seen {
		m.order = append(m.order, e.RequestID)
	}
	m.events[e.RequestID] = append(m.events[e.RequestID], data)
	return nil
}

// Events implements Reader.
func (m *MemorySink) Events(_ context.Context, requestID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.events[requestID]
	if !ok {
		return nil, errors.NewAuditNotFoundError(requestID)
	}
	out := make([]Event, 0, len(raw))
	for _, data := range raw {
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, errors.Wrap(errors.ErrCodeAuditReadFailed, "failed to decode event", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// RequestIDs implements Reader, in first-write order.
func (m *MemorySink) RequestIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.order...), nil
}

// Close implements Store.
func (m *MemorySink) Close() error { return nil }
