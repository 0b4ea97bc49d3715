package twincore

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogEntry is one request as shown by GET /admin/requests.
type RequestLogEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      string            `json:"query,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	StatusCode int               `json:"status_code"`
	Duration   time.Duration     `json:"duration_ms"`
	RequestID  string            `json:"request_id,omitempty"`
}

// RequestLog keeps the most recent requests in a fixed-size ring.
type RequestLog struct {
	mu   sync.RWMutex
	ring []RequestLogEntry
	next int // slot the next entry is written to
	full bool
}

// NewRequestLog returns a log holding at most size entries.
func NewRequestLog(size int) *RequestLog {
	if size < 1 {
		size = 1
	}
	return &RequestLog{ring: make([]RequestLogEntry, size)}
}

// Add records entry, overwriting the oldest one when the ring is full.
func (rl *RequestLog) Add(entry RequestLogEntry) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.ring[rl.next] = entry
	rl.next = (rl.next + 1) % len(rl.ring)
	if rl.next == 0 {
		rl.full = true
	}
}

// Entries returns the recorded requests, oldest first.
func (rl *RequestLog) Entries() []RequestLogEntry {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if !rl.full {
		return append([]RequestLogEntry(nil), rl.ring[:rl.next]...)
	}
	out := make([]RequestLogEntry, 0, len(rl.ring))
	out = append(out, rl.ring[rl.next:]...)
	return append(out, rl.ring[:rl.next]...)
}

// Clear forgets every entry.
func (rl *RequestLog) Clear() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	clear(rl.ring)
	rl.next, rl.full = 0, false
}

// FaultConfig is a failure injected for one endpoint pattern. Without Body
// the fault is rendered as an error envelope carrying Code, which defaults
// to "injected_fault". A fault with no status only adds Delay.
type FaultConfig struct {
	StatusCode int           `json:"status_code"`
	Code       string        `json:"code,omitempty"`
	Body       string        `json:"body,omitempty"`
	Delay      time.Duration `json:"delay_ms,omitempty"`
	Rate       float64       `json:"rate"` // probability in [0, 1]; 0 means always
}

// FaultRegistry maps path patterns to faults. A pattern ending in "*"
// covers every path with that prefix; exact patterns win, then the longest
// prefix.
type FaultRegistry struct {
	mu     sync.RWMutex
	exact  map[string]FaultConfig
	prefix map[string]FaultConfig
}

// NewFaultRegistry returns an empty registry.
func NewFaultRegistry() *FaultRegistry {
	return &FaultRegistry{exact: map[string]FaultConfig{}, prefix: map[string]FaultConfig{}}
}

// Set installs fault for pattern, replacing any previous one.
func (fr *FaultRegistry) Set(pattern string, fault FaultConfig) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fault.Rate == 0 {
		fault.Rate = 1
	}
	if p, ok := strings.CutSuffix(pattern, "*"); ok {
		fr.prefix[p] = fault
		return
	}
	fr.exact[pattern] = fault
}

// Remove deletes the fault for pattern and reports whether there was one.
func (fr *FaultRegistry) Remove(pattern string) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	table, key := fr.exact, pattern
	if p, ok := strings.CutSuffix(pattern, "*"); ok {
		table, key = fr.prefix, p
	}
	_, existed := table[key]
	delete(table, key)
	return existed
}

// Check returns the fault that fires for path on this request, or nil.
func (fr *FaultRegistry) Check(path string) *FaultConfig {
	fr.mu.RLock()
	f, ok := fr.exact[path]
	if !ok {
		best := -1
		for p, cfg := range fr.prefix {
			if strings.HasPrefix(path, p) && len(p) > best {
				best, f, ok = len(p), cfg, true
			}
		}
	}
	fr.mu.RUnlock()

	if !ok || (f.Rate < 1 && rand.Float64() >= f.Rate) {
		return nil
	}
	return &f
}

// All returns the installed faults keyed by the pattern they were set with.
func (fr *FaultRegistry) All() map[string]FaultConfig {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	out := make(map[string]FaultConfig, len(fr.exact)+len(fr.prefix))
	for k, v := range fr.exact {
		out[k] = v
	}
	for k, v := range fr.prefix {
		out[k+"*"] = v
	}
	return out
}

// Reset removes every fault.
func (fr *FaultRegistry) Reset() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.exact = map[string]FaultConfig{}
	fr.prefix = map[string]FaultConfig{}
}

// Tuning is the part of the twin's behaviour that PATCH /admin/config can
// change while it runs.
type Tuning struct {
	Latency  time.Duration
	FailRate float64
	Verbose  bool
}

// Middleware holds the request log, the fault registry and the current
// tuning shared by the twin's middleware chain.
type Middleware struct {
	logger *slog.Logger
	ReqLog *RequestLog
	Faults *FaultRegistry

	mu     sync.RWMutex
	tuning Tuning
}

// NewMiddleware starts from the tuning in cfg.
func NewMiddleware(cfg *Config, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Middleware{
		logger: logger,
		ReqLog: NewRequestLog(1000),
		Faults: NewFaultRegistry(),
		tuning: Tuning{Latency: cfg.Latency, FailRate: cfg.FailRate, Verbose: cfg.Verbose},
	}
}

// Tuning returns the current tuning.
func (m *Middleware) Tuning() Tuning {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tuning
}

// SetTuning replaces the tuning; requests already running keep the old one.
func (m *Middleware) SetTuning(t Tuning) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tuning = t
}

// CORS reflects the caller's origin and allows credentials so browser
// clients can carry the client cookie.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Cookie")
		h.Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the status a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLog records every request in ReqLog. Headers are kept only when
// the twin is verbose.
func (m *Middleware) RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := RequestLogEntry{
			Timestamp:  start,
			Method:     r.Method,
			Path:       r.URL.Path,
			Query:      r.URL.RawQuery,
			StatusCode: rec.statusCode,
			Duration:   time.Since(start),
			RequestID:  chimw.GetReqID(r.Context()),
		}
		if m.Tuning().Verbose {
			entry.Headers = make(map[string]string, len(r.Header))
			for k := range r.Header {
				entry.Headers[k] = r.Header.Get(k)
			}
		}
		m.ReqLog.Add(entry)

		m.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration", entry.Duration,
			"request_id", entry.RequestID,
		)
	})
}

// LatencyInjection delays each request by 80-120% of the tuned latency.
func (m *Middleware) LatencyInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := m.Tuning().Latency; d > 0 {
			jitter := 0.8 + rand.Float64()*0.4
			time.Sleep(time.Duration(float64(d) * jitter))
		}
		next.ServeHTTP(w, r)
	})
}

// RandomFailure answers 500 to the tuned share of requests.
func (m *Middleware) RandomFailure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rate := m.Tuning().FailRate; rate > 0 && rand.Float64() < rate {
			Error(w, http.StatusInternalServerError, "simulated random failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FaultInjection applies the registered fault for the request path. Mount
// it inside the /v1 group so the admin endpoints stay reachable.
func (m *Middleware) FaultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fault := m.Faults.Check(r.URL.Path)
		if fault == nil {
			next.ServeHTTP(w, r)
			return
		}
		if fault.Delay > 0 {
			time.Sleep(fault.Delay)
		}
		switch {
		case fault.StatusCode == 0:
			next.ServeHTTP(w, r)
		case fault.Body != "":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(fault.StatusCode)
			w.Write([]byte(fault.Body))
		default:
			code := fault.Code
			if code == "" {
				code = "injected_fault"
			}
			JSON(w, fault.StatusCode, ErrorEnvelope{Errors: []ErrorBody{{Code: code, Message: "injected fault"}}})
		}
	})
}
