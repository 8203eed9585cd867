package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stockledger/stockledger/internal/core/domain"
	"github.com/stockledger/stockledger/internal/port"
)

type options struct {
	clock  func() time.Time
	guard  port.IdempotencyGuard
	region string
}

type Option func(*options)

// WithClock replaces time.Now, the returned time's location decides what
// "today" means.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func WithIdempotencyGuard(guard port.IdempotencyGuard) Option {
	return func(o *options) { o.guard = guard }
}

// WithPhoneRegion sets the default region used to normalise contact numbers.
func WithPhoneRegion(region string) Option {
	return func(o *options) { o.region = region }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now, region: "US"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// collections gives typed access to the raw collection store.
type collections struct {
	store port.CollectionStore
	log   logrus.FieldLogger
}

func readCollection[T any](ctx context.Context, c collections, key string) ([]T, error) {
	payload, ok, err := c.store.Read(ctx, key)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read", Key: key, Err: err}
	}
	if !ok || len(payload) == 0 {
		return []T{}, nil
	}

	var out []T
	if err := json.Unmarshal(payload, &out); err != nil {
		c.log.WithFields(logrus.Fields{"key": key}).WithError(err).Warn("malformed collection, treating as empty")
		return []T{}, nil
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func writeCollection[T any](ctx context.Context, c collections, key string, values []T) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return &domain.PersistenceError{Op: "write", Key: key, Err: err}
	}
	if err := c.store.Write(ctx, key, payload); err != nil {
		return &domain.PersistenceError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func readSettings(ctx context.Context, c collections) (domain.Settings, error) {
	payload, ok, err := c.store.Read(ctx, port.KeySettings)
	if err != nil {
		return domain.Settings{}, &domain.PersistenceError{Op: "read", Key: port.KeySettings, Err: err}
	}
	if !ok || len(payload) == 0 {
		return domain.DefaultSettings(), nil
	}

	settings := domain.DefaultSettings()
	if err := json.Unmarshal(payload, &settings); err != nil {
		c.log.WithFields(logrus.Fields{"key": port.KeySettings}).WithError(err).Warn("malformed settings, using defaults")
		return domain.DefaultSettings(), nil
	}
	if settings.Currency == "" {
		settings.Currency = domain.DefaultCurrency
	}
	return settings, nil
}

func writeSettings(ctx context.Context, c collections, settings domain.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return &domain.PersistenceError{Op: "write", Key: port.KeySettings, Err: err}
	}
	if err := c.store.Write(ctx, port.KeySettings, payload); err != nil {
		return &domain.PersistenceError{Op: "write", Key: port.KeySettings, Err: err}
	}
	return nil
}

func indexItems(items []domain.Item) map[string]int {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.ID] = i
	}
	return index
}

type requestIDKey struct{}

// WithRequestID attaches a caller supplied idempotency key to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
