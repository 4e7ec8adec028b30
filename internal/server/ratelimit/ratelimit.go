// Package ratelimit limits how often a client may call the endpoints that
// spend model quota.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// EndpointConfig is the limit for one endpoint pattern.
type EndpointConfig struct {
	Path   string        // Exact path, or a prefix when it ends in "/"
	Suffix string        // Suffix a prefixed path must end with
	Method string        // HTTP method
	Limit  int           // Requests per window
	Window time.Duration // Refill window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Endpoints       []EndpointConfig
}

// DefaultConfig limits the analysis endpoints, which each trigger many model calls.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       map[string]bool{},
		Endpoints: []EndpointConfig{
			{Path: "/plans/", Suffix: "/analyze", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
			{Path: "/plans/", Suffix: "/analyze/stream", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
			{Path: "/reference-documents/", Suffix: "/process", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
			{Path: "/requirements/reconcile", Method: "POST", Limit: 10, Window: time.Hour, Burst: 2},
		},
	}
}

// MatchEndpoint returns the configuration for a request, or nil when the
// endpoint is not limited.
func MatchEndpoint(path, method string, configs []EndpointConfig) *EndpointConfig {
	for i := range configs {
		c := &configs[i]
		if c.Method != method {
			continue
		}
		if c.Suffix == "" && c.Path == path {
			return c
		}
		if c.Suffix != "" && strings.HasSuffix(c.Path, "/") &&
			strings.HasPrefix(path, c.Path) && strings.HasSuffix(path, c.Suffix) {
			return c
		}
	}
	return nil
}

// Info describes the limit state returned with every decision.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter keeps one token bucket per client and endpoint.
type Limiter struct {
	config  *Config
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*entry
	stop    chan struct{}
	once    sync.Once
}

// NewLimiter creates a limiter and starts its idle-bucket cleanup.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	l := &Limiter{
		config:  config,
		now:     time.Now,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	if config.Enabled && config.CleanupInterval > 0 {
		go l.cleanupLoop()
	}
	return l
}

// Allow consumes a token for the client on the endpoint when one is available.
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	if !l.config.Enabled || l.config.Whitelist[clientID] {
		return true, Info{Allowed: true}
	}
	ep := MatchEndpoint(path, method, l.config.Endpoints)
	if ep == nil || ep.Limit <= 0 {
		return true, Info{Allowed: true}
	}

	burst := ep.Burst
	if burst <= 0 {
		burst = ep.Limit
	}
	key := clientID + "|" + method + "|" + ep.Path + ep.Suffix
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(ep.Window/time.Duration(ep.Limit)), burst)}
		l.entries[key] = e
	}
	e.lastAccess = now
	l.mu.Unlock()

	info := Info{Limit: ep.Limit}
	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		info.RetryAfter = delay
		return false, info
	}
	info.Allowed = true
	info.Remaining = int(e.limiter.TokensAt(now))
	return true, info
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	cutoff := l.now().Add(-l.config.IdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.lastAccess.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}
