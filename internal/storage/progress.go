package storage

import (
	"io"
	"sync"
)

// progressCounter accumulates transferred bytes and reports them, capped at
// total so retried chunks never push the count past the object size.
type progressCounter struct {
	mu          sync.Mutex
	transferred int64
	total       int64
	fn          ProgressFunc
}

func newProgressCounter(total int64, fn ProgressFunc) *progressCounter {
	return &progressCounter{total: total, fn: fn}
}

func (c *progressCounter) add(n int) {
	if n <= 0 || c.fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transferred += int64(n)
	if c.total > 0 && c.transferred > c.total {
		c.transferred = c.total
	}
	c.fn(c.transferred, c.total)
}

// Read makes the counter usable as minio's Progress hook, which is handed a
// slice of every chunk that was sent.
func (c *progressCounter) Read(p []byte) (int, error) {
	c.add(len(p))
	return len(p), nil
}

// progressReader wraps an upload body and counts what the transport reads.
type progressReader struct {
	r       io.Reader
	counter *progressCounter
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.counter.add(n)
	return n, err
}
