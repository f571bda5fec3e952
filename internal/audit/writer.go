package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// WriterStore appends records as JSON lines to an io.Writer. A mutex
// guarantees each record lands as one contiguous line even under
// concurrent appends. Used for tests and --audit-log=- debugging.
type WriterStore struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterStore creates a WriterStore wrapping w.
func NewWriterStore(w io.Writer) *WriterStore {
	return &WriterStore{w: w}
}

// Append writes one record as a single JSON line.
func (s *WriterStore) Append(_ context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the underlying writer.
func (s *WriterStore) Close() error {
	return nil
}

var _ Store = (*WriterStore)(nil)
