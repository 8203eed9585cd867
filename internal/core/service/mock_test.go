package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var errDiskFull = errors.New("disk full")

// Mock CollectionStore
type mockStore struct {
	mu        sync.Mutex
	data      map[string][]byte
	failWrite map[string]bool
	failRead  map[string]bool
	writes    []string
}

func newMockStore() *mockStore {
	return &mockStore{
		data:      make(map[string][]byte),
		failWrite: make(map[string]bool),
		failRead:  make(map[string]bool),
	}
}

func (m *mockStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failRead[key] {
		return nil, false, errDiskFull
	}
	payload, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

func (m *mockStore) Write(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrite[key] {
		return errDiskFull
	}
	m.data[key] = append([]byte(nil), payload...)
	m.writes = append(m.writes, key)
	return nil
}

func (m *mockStore) RemoveAll(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		if m.failWrite[k] {
			return errDiskFull
		}
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mockStore) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = string(v)
	}
	return out
}

// Mock Locker
type mockLocker struct {
	mu    sync.Mutex
	calls int
}

func (l *mockLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.calls++
	return l.mu.Unlock, nil
}

// Mock IdempotencyGuard
type mockGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *mockGuard) Claim(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *mockGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHookedLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

// fixedClock pins "now" to 2024-03-15 10:30 in UTC.
func fixedClock() time.Time {
	return time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)
}
