package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hyunkyoun/moira/store"
)

var _ store.Store = (*Store)(nil)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "/moira/"

// Store implements store.Store backed by etcd.
type Store struct {
	client     *clientv3.Client
	prefix     string
	logger     *slog.Logger
	maxRetries int
	owned      bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithPrefix namespaces every key under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMaxRetries sets how many times an update retries after losing a
// revision race.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New wraps a client the caller owns.
func New(client *clientv3.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		prefix:     DefaultPrefix,
		logger:     slog.Default(),
		maxRetries: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open dials endpoints. The returned Store closes the client on Close.
func Open(endpoints []string, opts ...Option) (*Store, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("moira/etcd: connect: %w", err)
	}
	s := New(client, opts...)
	s.owned = true
	return s, nil
}

// Client returns the underlying etcd client.
func (s *Store) Client() *clientv3.Client { return s.client }

// Migrate is a no-op for etcd.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping asks the first endpoint for its status.
func (s *Store) Ping(ctx context.Context) error {
	eps := s.client.Endpoints()
	if len(eps) == 0 {
		return fmt.Errorf("moira/etcd: no endpoints configured")
	}
	if _, err := s.client.Status(ctx, eps[0]); err != nil {
		return fmt.Errorf("moira/etcd: ping: %w", err)
	}
	return nil
}

// Close closes the client when Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) jobsPrefix() string { return s.prefix + "jobs/" }

func (s *Store) jobKey(id string) string { return s.jobsPrefix() + id }
