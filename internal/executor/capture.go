package executor

import (
	"bytes"
	"sync"
)

// captureBudget is the shared byte budget for one execution's stdout
// and stderr combined. Writes past the budget are counted but their
// bytes are discarded, so a runaway script cannot grow memory while the
// executor keeps draining its pipes.
type captureBudget struct {
	mu        sync.Mutex
	remaining int64
	kept      int64
	exceeded  bool
}

func newCaptureBudget(limit int64) *captureBudget {
	return &captureBudget{remaining: limit}
}

// take reserves up to n bytes and reports how many may be kept.
func (b *captureBudget) take(n int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.remaining {
		b.exceeded = true
		n = b.remaining
	}
	b.remaining -= n
	b.kept += n
	return n
}

// captured returns the combined byte count kept within the budget.
func (b *captureBudget) captured() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kept
}

func (b *captureBudget) truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}

// capturedStream is an io.Writer that retains bytes only as long as the
// shared budget allows. Write never fails, so the subprocess is always
// fully drained.
type capturedStream struct {
	mu     sync.Mutex
	budget *captureBudget
	buf    bytes.Buffer
}

func newCapturedStream(budget *captureBudget) *capturedStream {
	return &capturedStream{budget: budget}
}

func (s *capturedStream) Write(p []byte) (int, error) {
	keep := s.budget.take(int64(len(p)))
	if keep > 0 {
		s.mu.Lock()
		s.buf.Write(p[:keep])
		s.mu.Unlock()
	}
	return len(p), nil
}

func (s *capturedStream) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Bytes()
}
