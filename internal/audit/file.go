package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/felixgeelhaar/dispatch/internal/errors"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileSink writes one JSON Lines file per request and fsyncs every event.
// Files are opened for each write, so no descriptor outlives a Write.
type FileSink struct {
	dir string
	mu  sync.Mutex
	// last is the highest seq stored per request, read from disk on the
	// first write of a request.
	last map[string]int64
}

// NewFileSink creates dir if needed and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &FileSink{dir: dir, last: make(map[string]int64)}, nil
}

// Path returns the file holding requestID's events.
func (s *FileSink) Path(requestID string) string {
	return filepath.Join(s.dir, unsafeFileChars.ReplaceAllString(requestID, "_")+".jsonl")
}

// Write implements Sink.
func (s *FileSink) Write(ctx context.Context, e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[e.RequestID]
	if !ok {
		if last, err = s.storedSeq(ctx, e.RequestID); err != nil {
			return err
		}
	}
	if e.Seq != last+1 {
		return conflict(e, fmt.Sprintf("does not follow stored seq %d", last))
	}

	f, err := os.OpenFile(s.Path(e.RequestID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync audit file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close audit file: %w", err)
	}

	s.last[e.RequestID] = e.Seq
	return nil
}

func (s *FileSink) storedSeq(ctx context.Context, requestID string) (int64, error) {
	events, err := s.Events(ctx, requestID)
	if errors.HasCode(err, errors.ErrCodeAuditNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return events[len(events)-1].Seq, nil
}

// Events implements Reader.
func (s *FileSink) Events(_ context.Context, requestID string) ([]Event, error) {
	f, err := os.Open(s.Path(requestID))
	if os.IsNotExist(err) {
		return nil, errors.NewAuditNotFoundError(requestID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditReadFailed, "failed to open audit file", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, errors.Wrap(errors.ErrCodeAuditReadFailed, "failed to decode event", err)
		}
		// sanitized names may collide
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditReadFailed, "failed to read audit file", err)
	}
	if len(out) == 0 {
		return nil, errors.NewAuditNotFoundError(requestID)
	}
	return out, nil
}

// RequestIDs implements Reader, sorted.
func (s *FileSink) RequestIDs(context.Context) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditReadFailed, "failed to list audit files", err)
	}

	seen := make(map[string]bool)
	for _, p := range paths {
		ids, err := requestIDsIn(p)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id] = true
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func requestIDsIn(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditReadFailed, "failed to open audit file", err)
	}
	defer f.Close()

	var ids []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e struct {
			RequestID string `json:"request_id"`
		}
		if json.Unmarshal(scanner.Bytes(), &e) == nil && e.RequestID != "" && !seen[e.RequestID] {
			seen[e.RequestID] = true
			ids = append(ids, e.RequestID)
		}
	}
	return ids, scanner.Err()
}

// Close implements Store. FileSink holds no open files between writes.
func (s *FileSink) Close() error {
	return nil
}
