package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vocdoni/cypherpoll/api"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/state"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds the graceful shutdown of the HTTP server.
const DefaultShutdownTimeout = 15 * time.Second

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	state  *state.State
	API    *api.API
	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	host   string
	port   int
	addr   net.Addr

	// VoteTimeout overrides the API vote request timeout when set.
	VoteTimeout time.Duration
}

// NewAPI creates a new APIService instance. Port 0 picks a free port.
func NewAPI(st *state.State, host string, port int, disableLogging bool) *APIService {
	if disableLogging {
		api.DisabledLogging = disableLogging
		log.Debugw("API logging is disabled")
	}
	return &APIService{
		state: st,
		host:  host,
		port:  port,
	}
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to listen. The server stops when ctx
// is cancelled or Stop is called.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}
	var err error
	as.API, err = api.New(&api.APIConfig{State: as.state, VoteTimeout: as.VoteTimeout})
	if err != nil {
		return fmt.Errorf("failed to create API: %w", err)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(as.host, strconv.Itoa(as.port)))
	if err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	as.addr = ln.Addr()
	srv := &http.Server{
		Handler:           as.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, as.cancel = context.WithCancel(ctx)
	as.group = &errgroup.Group{}
	as.group.Go(func() error {
		log.Infow("starting API server", "address", as.addr.String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	as.group.Go(func() error {
		<-ctx.Done()
		log.Infow("shutting down API server", "address", as.addr.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown: %w", err)
		}
		return nil
	})
	return nil
}

// Stop halts the API server and waits for it to shut down.
func (as *APIService) Stop() error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel == nil {
		return nil
	}
	as.cancel()
	as.cancel = nil
	return as.group.Wait()
}

// Wait blocks until the server stops on its own or through ctx.
func (as *APIService) Wait() error {
	as.mu.Lock()
	g := as.group
	as.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Addr returns the address the server listens on, once started.
func (as *APIService) Addr() net.Addr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.addr
}

// URL returns the base URL of the running server.
func (as *APIService) URL() string {
	addr := as.Addr()
	if addr == nil {
		return ""
	}
	return "http://" + addr.String()
}
