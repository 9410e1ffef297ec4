// Package api exposes the engine over HTTP.
//
// Routes are mounted on a chi router. The caller's identity is read from a
// trusted header set by the upstream auth layer and attached to the
// request context with scope.WithOwner; the engine enforces it on every
// read. Submissions are rate limited per owner.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hyunkyoun/moira/engine"
	"github.com/hyunkyoun/moira/stream"
)

// DefaultOwnerHeader carries the authenticated owner id.
const DefaultOwnerHeader = "X-Moira-Owner"

// API wires the HTTP handlers for the moira engine.
type API struct {
	eng     *engine.Engine
	broker  *stream.Broker
	limiter *ownerLimiter
	logger  *slog.Logger

	ownerHeader  string
	requireOwner bool
}

// Option configures an API.
type Option func(*API)

// WithBroker enables the job event stream endpoint.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithOwnerHeader changes the header the owner id is read from.
func WithOwnerHeader(name string) Option {
	return func(a *API) { a.ownerHeader = name }
}

// WithAnonymous lets requests without an owner header through. They are
// treated as trusted and see every job.
func WithAnonymous() Option {
	return func(a *API) { a.requireOwner = false }
}

// WithSubmitRate limits job submissions to perSecond per owner with the
// given burst. Zero disables the limit.
func WithSubmitRate(perSecond float64, burst int) Option {
	return func(a *API) { a.limiter = newOwnerLimiter(perSecond, burst) }
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:          eng,
		logger:       slog.Default(),
		ownerHeader:  DefaultOwnerHeader,
		requireOwner: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, a.logRequests, chimw.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all moira routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/health", a.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.identify)

		r.Get("/steps", a.listSteps)
		r.Post("/plans/validate", a.validatePlan)

		r.Route("/jobs", func(r chi.Router) {
			r.With(a.limitSubmissions).Post("/", a.submitJob)
			r.Get("/", a.listJobs)

			r.Route("/{jobId}", func(r chi.Router) {
				r.Get("/", a.getJob)
				r.Get("/result", a.getResult)
				r.Get("/artifacts", a.listArtifacts)
				r.Get("/artifacts/{name}", a.getArtifact)
				r.Post("/cancel", a.cancelJob)
				r.With(a.limitSubmissions).Post("/resubmit", a.resubmitJob)
				r.Get("/events", a.streamEvents)
			})
		})
	})
}

// logRequests logs one line per request at INFO (DEBUG for health checks).
func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		a.logger.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
