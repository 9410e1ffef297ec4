package moira

import (
	"context"
	"log/slog"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// Storer is the minimal store interface held by the Orchestrator.
// It covers lifecycle operations only. The composite store.Store is used
// by the engine, which sits above the subsystem packages.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// starter is an internal interface for the engine lifecycle.
type starter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Orchestrator holds the configuration, logger and store shared by every
// moira subsystem. Create one with New and hand it to engine.Build.
type Orchestrator struct {
	config Config
	logger *slog.Logger
	store  Storer
	engine starter

	started bool
}

// New creates a new Orchestrator with the given options.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }

// Store returns the orchestrator's store.
func (o *Orchestrator) Store() Storer { return o.store }

// Config returns a copy of the orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.config }

// SetEngine registers the engine lifecycle (called by engine.Build).
func (o *Orchestrator) SetEngine(e starter) { o.engine = e }

// Start begins background execution and recovers interrupted jobs.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.engine == nil {
		return ErrNoStore
	}
	if err := o.engine.Start(ctx); err != nil {
		return err
	}
	o.started = true
	return nil
}

// Stop drains running jobs and closes the store.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.engine != nil && o.started {
		if err := o.engine.Stop(ctx); err != nil {
			o.logger.Error("engine stop error", slog.String("error", err.Error()))
		}
	}
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrently executing jobs.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) error {
		if n > 0 {
			o.config.Concurrency = n
		}
		return nil
	}
}

// WithIngestionStep sets the step every plan must begin with.
func WithIngestionStep(name string) Option {
	return func(o *Orchestrator) error {
		o.config.IngestionStep = name
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) error {
		o.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. It is typically a store.Store,
// which embeds job.Store.
func WithStore(s Storer) Option {
	return func(o *Orchestrator) error {
		o.store = s
		return nil
	}
}
