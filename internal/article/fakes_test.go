package article

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/quillpress/articles/internal/notify"
	"github.com/quillpress/articles/internal/storage"
)

// memStorage keeps uploaded objects in memory and reports progress per chunk.
type memStorage struct {
	mu      sync.Mutex
	chunk   int
	objects map[string][]byte
	steps   [][2]int64
	calls   int
	deleted []string

	uploadErr error
	urlErr    error
	// gate, when set, blocks Upload until it is closed.
	gate chan struct{}
}

func newMemStorage() *memStorage {
	return &memStorage{chunk: 1 << 20, objects: make(map[string][]byte)}
}

func (s *memStorage) Upload(ctx context.Context, key string, r io.Reader, size int64, _ string, progress storage.ProgressFunc) error {
	s.mu.Lock()
	s.calls++
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	report := func(n int64) {
		s.mu.Lock()
		s.steps = append(s.steps, [2]int64{n, size})
		s.mu.Unlock()
		progress(n, size)
	}

	report(0)
	var data []byte
	buf := make([]byte, s.chunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			report(int64(len(data)))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if s.uploadErr != nil {
		return s.uploadErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStorage) PublicURL(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.urlErr != nil {
		return "", s.urlErr
	}
	if _, ok := s.objects[key]; !ok {
		return "", errors.New("no such object")
	}
	return "https://cdn.test/articles/" + key, nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStorage) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *memStorage) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type memRepo struct {
	mu      sync.Mutex
	records []Record
	calls   int
	err     error
}

func (r *memRepo) Insert(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	rec.ID = fmt.Sprintf("rec-%d", len(r.records)+1)
	r.records = append(r.records, *rec)
	return nil
}

func (r *memRepo) all() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

type toastRecorder struct {
	mu     sync.Mutex
	toasts []notify.Notification
}

func (t *toastRecorder) Notify(_ context.Context, _ string, n notify.Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toasts = append(t.toasts, n)
}

func (t *toastRecorder) all() []notify.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]notify.Notification(nil), t.toasts...)
}

type alertRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (a *alertRecorder) Alert(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

func (a *alertRecorder) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

// stepClock returns start, start+step, start+2*step, ...
type stepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

func newStepClock(start time.Time, step time.Duration) *stepClock {
	return &stepClock{next: start, step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// advance moves the clock forward without a call to Now.
func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.next.Add(d)
}

func testImage(name string, size int) *Image {
	return ImageFromBytes(name, "image/png", []byte(strings.Repeat("x", size)))
}
