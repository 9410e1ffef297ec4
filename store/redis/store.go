package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hyunkyoun/moira/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps jobs in Redis: one hash per job plus sorted-set indexes by
// owner and state. It does not own the client.
type Store struct {
	client     redis.UniversalClient
	keys       keyspace
	logger     *slog.Logger
	maxRetries int
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix namespaces all keys. A trailing ":" is added when
// missing. The default is DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keys = newKeyspace(prefix) }
}

// WithMaxRetries bounds how often an update is retried after losing a
// WATCH race to another writer.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New returns a store on client. Closing the client stays with the caller.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		keys:       newKeyspace(DefaultKeyPrefix),
		logger:     slog.Default(),
		maxRetries: 5,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Migrate does nothing; Redis has no schema.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Close does nothing; see New.
func (s *Store) Close() error { return nil }
