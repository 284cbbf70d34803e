package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/engine"
	"github.com/vnykmshr/goquota/pkg/quota/iprange"
)

// DefaultClientIDHeader carries the client id when Config leaves it empty.
const DefaultClientIDHeader = "X-ClientId"

// Evaluator is the part of *engine.Engine the middleware needs.
type Evaluator interface {
	Evaluate(ctx context.Context, id quota.Identity) (engine.Decision, error)
}

// ErrorHandler writes the response for a request that could not be
// evaluated.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Config holds configuration for the HTTP middleware.
type Config struct {
	// ClientIDHeader names the header holding the client id.
	ClientIDHeader string

	// RealIPHeader names a header holding the client address, set by a
	// reverse proxy. It is honored only for requests arriving from
	// TrustedProxies; otherwise the remote address is used.
	RealIPHeader   string
	TrustedProxies []string

	// MetadataHeaders maps identity metadata keys to request headers.
	MetadataHeaders map[string]string

	// DisableRateLimitHeaders stops the X-Rate-Limit-* headers from being
	// written on allowed requests.
	DisableRateLimitHeaders bool

	// OnError defaults to 400 for unresolvable identities and 500
	// otherwise.
	OnError ErrorHandler

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// DefaultConfig returns a configuration that reads the client id from
// DefaultClientIDHeader and the address from the connection.
func DefaultConfig() Config {
	return Config{
		ClientIDHeader: DefaultClientIDHeader,
		Logger:         zap.NewNop(),
	}
}

// Middleware applies quota decisions to HTTP requests.
type Middleware struct {
	evaluator Evaluator
	config    Config
	proxies   []iprange.Range
}

// New creates a Middleware around evaluator.
func New(evaluator Evaluator, config Config) (*Middleware, error) {
	if evaluator == nil {
		return nil, gqerrors.NewValidationError("middleware", "evaluator", nil, "cannot be nil")
	}
	defaults := DefaultConfig()
	if config.ClientIDHeader == "" {
		config.ClientIDHeader = defaults.ClientIDHeader
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	m := &Middleware{evaluator: evaluator, config: config}
	if config.OnError == nil {
		m.config.OnError = m.writeError
	}
	for _, expr := range config.TrustedProxies {
		r, err := iprange.ParseRange(expr)
		if err != nil {
			return nil, err
		}
		m.proxies = append(m.proxies, r)
	}
	return m, nil
}

// Handler wraps next with quota enforcement.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := m.evaluator.Evaluate(r.Context(), m.Identity(r))
		if err != nil {
			m.config.OnError(w, r, err)
			return
		}

		if !d.Allowed() {
			m.writeBlocked(w, d)
			return
		}
		if d.Headers != nil && !m.config.DisableRateLimitHeaders {
			writeHeaders(w, *d.Headers)
		}
		next.ServeHTTP(w, r)
	})
}

// Identity builds the quota identity of r.
func (m *Middleware) Identity(r *http.Request) quota.Identity {
	id := quota.NewIdentity(r.Header.Get(m.config.ClientIDHeader), m.clientIP(r), r.Method, r.URL.Path)

	if len(m.config.MetadataHeaders) > 0 {
		id.Metadata = make(map[string]string, len(m.config.MetadataHeaders))
		for key, header := range m.config.MetadataHeaders {
			if v := r.Header.Get(header); v != "" {
				id.Metadata[key] = v
			}
		}
	}

	if query := r.URL.Query(); len(query) > 0 {
		id.Parameters = make(map[string]string, len(query))
		for name := range query {
			id.Parameters[name] = query.Get(name)
		}
	}
	return id
}

func (m *Middleware) clientIP(r *http.Request) string {
	remote := remoteIP(r.RemoteAddr)
	if m.config.RealIPHeader == "" || !m.trusted(remote) {
		return remote
	}

	v := r.Header.Get(m.config.RealIPHeader)
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return remote
}

func (m *Middleware) trusted(ip string) bool {
	for _, r := range m.proxies {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// remoteIP strips the port from a RemoteAddr value.
func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (m *Middleware) writeBlocked(w http.ResponseWriter, d engine.Decision) {
	if d.RetryAfter != "" {
		w.Header().Set(quota.HeaderRetryAfter, d.RetryAfter)
	}
	if d.Headers != nil && !m.config.DisableRateLimitHeaders {
		writeHeaders(w, *d.Headers)
	}

	status := d.Response.StatusCode
	if status == 0 {
		status = http.StatusTooManyRequests
	}
	if d.Response.ContentType != "" {
		w.Header().Set("Content-Type", d.Response.ContentType)
	}
	w.WriteHeader(status)
	if _, err := w.Write([]byte(d.Response.Content)); err != nil {
		m.config.Logger.Debug("write quota response", zap.Error(err))
	}
}

func (m *Middleware) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, gqerrors.ErrIdentityResolution) {
		http.Error(w, "cannot identify client", http.StatusBadRequest)
		return
	}
	m.config.Logger.Error("quota evaluation failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	status := http.StatusInternalServerError
	if gqerrors.IsBackendUnavailable(err) {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, http.StatusText(status), status)
}

func writeHeaders(w http.ResponseWriter, h quota.Headers) {
	for name, value := range h.Map() {
		w.Header().Set(name, value)
	}
}
