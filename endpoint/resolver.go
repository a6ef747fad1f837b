// Package endpoint decides where the backend lives. Outside host mode the
// address comes from configuration; under the native host the port is asked
// from the supervising runtime once and reused for the rest of the session.
package endpoint

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"rewardspanel/config"
)

// Endpoint is the resolved pair of base URLs every transport derives from.
type Endpoint struct {
	HTTPBase string
	WSURL    string
	Port     int
}

// PortQuerier is the host capability consulted in host mode.
type PortQuerier interface {
	BackendPort(ctx context.Context) (int, error)
}

type strategy interface {
	name() string
	port(ctx context.Context, fallback int) int
}

// staticStrategy always answers with the configured port.
type staticStrategy struct{}

func (staticStrategy) name() string { return "static" }

func (staticStrategy) port(_ context.Context, fallback int) int { return fallback }

// hostStrategy asks the native host for the dynamically assigned port. Any
// failure degrades to the configured default instead of failing resolution.
type hostStrategy struct {
	ports PortQuerier
}

func (hostStrategy) name() string { return "host" }

func (h hostStrategy) port(ctx context.Context, fallback int) int {
	port, err := h.ports.BackendPort(ctx)
	if err != nil {
		log.Printf("Endpoint: host port query failed, using default port %d: %v", fallback, err)
		return fallback
	}
	if port <= 0 || port > 65535 {
		// The host reports 0 when no port was ever assigned.
		return fallback
	}
	return port
}

// Resolver caches the first resolution for the process lifetime unless
// Invalidate is called.
type Resolver struct {
	mu       sync.Mutex
	backend  config.BackendConfig
	strategy strategy
	cached   *Endpoint
}

// NewResolver selects the strategy once: host when ports is non-nil, static
// otherwise.
func NewResolver(backend config.BackendConfig, ports PortQuerier) *Resolver {
	var s strategy = staticStrategy{}
	if ports != nil {
		s = hostStrategy{ports: ports}
	}
	return &Resolver{backend: backend, strategy: s}
}

// Mode reports which strategy was selected ("host" or "static").
func (r *Resolver) Mode() string {
	return r.strategy.name()
}

// Resolve returns the cached endpoint, computing it on the first call. The
// only error is ctx expiring before the first resolution completed; nothing
// is cached in that case.
func (r *Resolver) Resolve(ctx context.Context) (Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return *r.cached, nil
	}
	if err := ctx.Err(); err != nil {
		return Endpoint{}, err
	}
	port := r.strategy.port(ctx, r.backend.Port)
	if err := ctx.Err(); err != nil {
		return Endpoint{}, err
	}
	ep := Build(r.backend, port)
	r.cached = &ep
	log.Printf("Endpoint: resolved %s (%s mode)", ep.HTTPBase, r.strategy.name())
	return ep, nil
}

// Invalidate drops the cached endpoint so the next Resolve recomputes it.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// Build derives both base URLs for the given port.
func Build(backend config.BackendConfig, port int) Endpoint {
	hostPort := net.JoinHostPort(backend.Host, strconv.Itoa(port))
	return Endpoint{
		HTTPBase: fmt.Sprintf("http://%s%s", hostPort, backend.APIPrefix),
		WSURL:    fmt.Sprintf("ws://%s%s", hostPort, backend.WSPath),
		Port:     port,
	}
}
