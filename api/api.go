// Package api exposes a poll over HTTP: registration, vote submission and
// the read side, plus Prometheus metrics.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/state"
)

const (
	maxRequestBodyLog = 512 // Maximum length of request body to log

	// DefaultRequestTimeout bounds regular requests.
	DefaultRequestTimeout = 45 * time.Second
	// DefaultVoteTimeout bounds vote requests, whose verification can be
	// slow for real proof systems.
	DefaultVoteTimeout = 600 * time.Second
)

// APIConfig type represents the configuration for the API HTTP handler.
type APIConfig struct {
	State          *state.State
	RequestTimeout time.Duration
	VoteTimeout    time.Duration
}

// API type represents the API HTTP handler of a poll.
type API struct {
	router  *chi.Mux
	state   *state.State
	metrics *Metrics

	requestTimeout time.Duration
	voteTimeout    time.Duration
}

// New creates a new API instance with the given configuration.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.State == nil {
		return nil, fmt.Errorf("missing state instance")
	}
	a := &API{
		state:          conf.State,
		metrics:        newMetrics(),
		requestTimeout: conf.RequestTimeout,
		voteTimeout:    conf.VoteTimeout,
	}
	if a.requestTimeout <= 0 {
		a.requestTimeout = DefaultRequestTimeout
	}
	if a.voteTimeout <= 0 {
		a.voteTimeout = DefaultVoteTimeout
	}
	a.metrics.treeSize.Set(float64(a.state.Info().Size))
	a.initRouter()
	return a, nil
}

// Router returns the chi router.
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", MetricsEndpoint, "method", "GET")
	a.router.Method(http.MethodGet, MetricsEndpoint, a.metrics.Handler())

	a.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.requestTimeout))
		log.Infow("register handler", "endpoint", InfoEndpoint, "method", "GET")
		r.Get(InfoEndpoint, a.info)
		log.Infow("register handler", "endpoint", ChallengeEndpoint, "method", "GET")
		r.Get(ChallengeEndpoint, a.challenge)
		log.Infow("register handler", "endpoint", RegisterEndpoint, "method", "POST")
		r.Post(RegisterEndpoint, a.register)
		log.Infow("register handler", "endpoint", RootsEndpoint, "method", "GET")
		r.Get(RootsEndpoint, a.roots)
		log.Infow("register handler", "endpoint", ResultsEndpoint, "method", "GET")
		r.Get(ResultsEndpoint, a.results)
	})
	a.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.voteTimeout))
		log.Infow("register handler", "endpoint", VoteEndpoint, "method", "POST")
		r.Post(VoteEndpoint, a.vote)
	})
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(metricsMiddleware(a.metrics))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ErrResourceNotFound.With(r.URL.Path).Write(w)
	})

	a.registerHandlers()
}
