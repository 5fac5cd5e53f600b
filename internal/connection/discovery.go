package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thebtf/vectorcache/internal/vector"
)

// defaultGRPCPort is used for URL endpoints without an explicit port.
const defaultGRPCPort = 6334

// ErrNoEndpoint is wrapped by the error returned when every candidate failed.
var ErrNoEndpoint = errors.New("no reachable qdrant endpoint")

// Endpoint is a candidate or discovered vector store address.
type Endpoint struct {
	Host string `json:"host"`
	URL  string `json:"url,omitempty"`
	Port int    `json:"port"`
	TLS  bool   `json:"tls"`
	// FromURL marks endpoints parsed from a configured URL. These skip
	// certificate verification when TLS is on.
	FromURL bool `json:"from_url"`
}

func (e Endpoint) String() string {
	scheme := "http"
	if e.TLS {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpointURL converts a configured URL into an endpoint. The scheme
// selects TLS; a missing port falls back to the gRPC default.
func ParseEndpointURL(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("parse qdrant url %q: missing host", raw)
	}

	var useTLS bool
	switch strings.ToLower(u.Scheme) {
	case "https", "grpcs":
		useTLS = true
	case "http", "grpc":
	default:
		return Endpoint{}, fmt.Errorf("parse qdrant url %q: unsupported scheme %q", raw, u.Scheme)
	}

	port := defaultGRPCPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Endpoint{}, fmt.Errorf("parse qdrant url %q: invalid port %q", raw, p)
		}
	}
	return Endpoint{Host: u.Hostname(), Port: port, TLS: useTLS, URL: raw, FromURL: true}, nil
}

// Candidates lists endpoints in probe order: the configured URL first, then
// every configured port on the configured host.
func (m *Manager) Candidates() []Endpoint {
	var out []Endpoint
	if m.cfg.QdrantURL != "" {
		ep, err := ParseEndpointURL(m.cfg.QdrantURL)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Ignoring invalid QDRANT_URL")
		} else {
			out = append(out, ep)
		}
	}
	host := m.cfg.QdrantHost
	if host == "" {
		host = "localhost"
	}
	for _, port := range m.cfg.QdrantPorts {
		out = append(out, Endpoint{Host: host, Port: port})
	}
	return out
}

// discover returns the first candidate whose store answers a probe.
func (m *Manager) discover(ctx context.Context) (vector.Store, Endpoint, error) {
	candidates := m.Candidates()
	if len(candidates) == 0 {
		return nil, Endpoint{}, fmt.Errorf("%w: no candidates configured", ErrNoEndpoint)
	}

	timeout := m.cfg.DiscoveryTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var errs []error
	for _, ep := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, Endpoint{}, fmt.Errorf("discovery: %w", err)
		}
		store, err := m.probe(ctx, ep, timeout)
		if err != nil {
			m.logger.Debug().Err(err).Str("endpoint", ep.String()).Msg("Qdrant probe failed")
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
			continue
		}
		m.logger.Info().Str("endpoint", ep.String()).Msg("Qdrant endpoint discovered")
		return store, ep, nil
	}
	return nil, Endpoint{}, fmt.Errorf("%w: %w", ErrNoEndpoint, errors.Join(errs...))
}

func (m *Manager) probe(ctx context.Context, ep Endpoint, timeout time.Duration) (vector.Store, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	store, err := m.dial(probeCtx, ep)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if _, err := store.ListCollections(probeCtx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return store, nil
}
