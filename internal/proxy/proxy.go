// Package proxy forwards matched requests to upstream backends chosen by
// the route's balancer. For hash-based policies the request key is hashed
// once and reused across retries, so each retry walks to the next ring
// position instead of re-rolling.
package proxy

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/keyroute/keyroute/internal/health"
	"github.com/keyroute/keyroute/internal/lb"
	"github.com/keyroute/keyroute/internal/middleware"
	"github.com/keyroute/keyroute/internal/observe"
	"github.com/keyroute/keyroute/internal/router"
)

// Recorder receives per-request outcomes for passive health tracking.
type Recorder interface {
	RecordSuccess(addr string)
	RecordFailure(addr string)
}

// Upstream bundles everything the proxy needs to serve one route.
type Upstream struct {
	Name     string
	Balancer lb.Balancer
	Pool     *health.Pool
	Recorder Recorder // may be nil
	Retries  int
	HashKey  string // "", "source_ip", or "header:<Name>"
}

// Proxy routes requests to upstreams and forwards them.
type Proxy struct {
	router    *router.Router
	upstreams map[string]*Upstream
	metrics   *observe.Metrics
	logger    *slog.Logger
	client    *http.Client
}

// New creates a proxy over the given routing table.
func New(rt *router.Router, upstreams map[string]*Upstream, metrics *observe.Metrics, logger *slog.Logger) *Proxy {
	return &Proxy{
		router:    rt,
		upstreams: upstreams,
		metrics:   metrics,
		logger:    logger,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
			// Redirects pass through to the client untouched.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	route := p.router.Match(r)
	if route == nil {
		p.observe("", r.Method, http.StatusNotFound, start)
		http.Error(w, "no route", http.StatusNotFound)
		return
	}

	up := p.upstreams[route.Name]
	if up == nil {
		p.observe(route.Name, r.Method, http.StatusNotFound, start)
		http.Error(w, "no route", http.StatusNotFound)
		return
	}

	status := p.forward(w, r, up)
	p.observe(route.Name, r.Method, status, start)
}

func (p *Proxy) observe(route, method string, status int, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), method).Inc()
	p.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

// maxRetryBodyBytes caps how much of a request body the proxy will buffer
// to make it replayable across retries. Larger bodies are rejected rather
// than held in memory.
const maxRetryBodyBytes = 4 << 20

// forward runs the retry loop for one request and returns the status code
// written to the client.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, up *Upstream) int {
	hash := p.requestHash(r, up.HashKey)

	// Only retries need a replayable body; a single attempt streams the
	// body straight through without buffering.
	var body []byte
	if up.Retries > 0 && r.Body != nil && r.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxRetryBodyBytes))
		r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request body too large to retry", http.StatusRequestEntityTooLarge)
				return http.StatusRequestEntityTooLarge
			}
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return http.StatusBadRequest
		}
	}

	var lastErr error
	for attempt := 0; attempt <= up.Retries; attempt++ {
		if attempt > 0 && p.metrics != nil {
			p.metrics.RetriesTotal.WithLabelValues(up.Name).Inc()
		}

		backend := up.Balancer.Pick(hash, uint32(attempt))
		if backend == nil {
			http.Error(w, "no healthy backend", http.StatusServiceUnavailable)
			return http.StatusServiceUnavailable
		}

		reader, streaming := io.Reader(r.Body), true
		if body != nil {
			reader, streaming = bytes.NewReader(body), false
		}
		resp, err := p.send(r, backend, reader, streaming)
		if lc, ok := up.Balancer.(*lb.LeastConnections); ok {
			lc.Done(backend)
		}
		if err != nil {
			lastErr = err
			if up.Recorder != nil {
				up.Recorder.RecordFailure(backend.Addr)
			}
			p.logger.Warn("backend request failed",
				"route", up.Name,
				"backend", backend.Addr,
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		if retryableStatus(resp.StatusCode) && attempt < up.Retries {
			resp.Body.Close()
			if up.Recorder != nil {
				up.Recorder.RecordFailure(backend.Addr)
			}
			p.logger.Warn("backend returned retryable status",
				"route", up.Name,
				"backend", backend.Addr,
				"status", resp.StatusCode,
				"attempt", attempt,
			)
			continue
		}

		if up.Recorder != nil {
			if resp.StatusCode >= http.StatusInternalServerError {
				up.Recorder.RecordFailure(backend.Addr)
			} else {
				up.Recorder.RecordSuccess(backend.Addr)
			}
		}
		return writeResponse(w, resp)
	}

	p.logger.Error("all attempts failed",
		"route", up.Name,
		"attempts", up.Retries+1,
		"error", lastErr,
	)
	http.Error(w, "bad gateway", http.StatusBadGateway)
	return http.StatusBadGateway
}

// send forwards the request to one backend. streaming marks a direct body
// passthrough, where the declared length must be carried over so the
// outbound request is not forced to chunked encoding.
func (p *Proxy) send(r *http.Request, backend *lb.Backend, body io.Reader, streaming bool) (*http.Response, error) {
	url := backend.Addr + r.URL.RequestURI()

	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, body)
	if err == nil && streaming {
		req.ContentLength = r.ContentLength
	}
	if err != nil {
		return nil, err
	}

	copyHeaders(req.Header, r.Header)
	appendForwardedFor(req, r)
	if traceID := middleware.TraceIDFrom(r.Context()); traceID != "" {
		req.Header.Set("X-Request-ID", traceID)
	}

	return p.client.Do(req)
}

// requestHash derives the consistent-hash key for a request.
//
// "source_ip" (and the empty default) hash the client IP, so one client
// sticks to one backend. "header:<Name>" hashes the named header, falling
// back to the client IP when the header is absent.
func (p *Proxy) requestHash(r *http.Request, hashKey string) uint64 {
	if name, ok := strings.CutPrefix(hashKey, "header:"); ok {
		if v := r.Header.Get(name); v != "" {
			return xxhash.Sum64String(v)
		}
	}
	return xxhash.Sum64String(clientIP(r))
}

// clientIP extracts the originating client IP, preferring the first
// X-Forwarded-For entry set by an upstream proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryableStatus reports whether a backend response should be retried on
// another backend rather than returned to the client.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// hopByHop headers are connection-scoped and must not be forwarded.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHop[key] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func appendForwardedFor(req *http.Request, orig *http.Request) {
	host, _, err := net.SplitHostPort(orig.RemoteAddr)
	if err != nil {
		host = orig.RemoteAddr
	}
	if prior := orig.Header.Get("X-Forwarded-For"); prior != "" {
		req.Header.Set("X-Forwarded-For", prior+", "+host)
	} else {
		req.Header.Set("X-Forwarded-For", host)
	}
}

func writeResponse(w http.ResponseWriter, resp *http.Response) int {
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if hopByHop[key] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
	return resp.StatusCode
}
