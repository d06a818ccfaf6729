// Adapted from the teacher's internal/httputil/rate_limiting.go: a
// per-caller token bucket keyed by device or IP, with admin/appservice-style
// exemptions replaced by a flat set of exempt (user, device) pairs. Every
// command that reaches the limiter, Ping and Provision included, draws on
// the same bucket; the router answers Options and Autodiscover without
// consulting it.
package httputil

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/exchangecore/excore/internal/metrics"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	Enabled       bool
	Threshold     int64
	Cooloff       time.Duration
	ExemptDevices map[string]struct{} // "user|device_id"
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token-bucket limiter keyed by (device or IP).
type RateLimiter struct {
	cfg         RateLimitConfig
	mu          sync.Mutex
	limits      map[string]*limiterEntry
	cleanupDone chan struct{}
}

// NewRateLimiter constructs a limiter and, if enabled, starts its
// background eviction goroutine.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	l := &RateLimiter{
		cfg:         cfg,
		limits:      make(map[string]*limiterEntry),
		cleanupDone: make(chan struct{}),
	}
	if l.cfg.Enabled {
		go l.clean()
	}
	return l
}

func (l *RateLimiter) clean() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.cleanupDone:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-5 * time.Minute)
			l.mu.Lock()
			for key, entry := range l.limits {
				if entry.lastSeen.Before(cutoff) {
					delete(l.limits, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop halts the cleanup goroutine; safe to call multiple times.
func (l *RateLimiter) Stop() {
	select {
	case <-l.cleanupDone:
	default:
		close(l.cleanupDone)
	}
}

// Allow reports whether the request identified by (userEmail, deviceID, or
// the request's remote IP as fallback) may proceed.
func (l *RateLimiter) Allow(r *http.Request, userEmail, deviceID string) bool {
	if !l.cfg.Enabled {
		return true
	}
	key := callerKey(r, userEmail, deviceID)
	if _, exempt := l.cfg.ExemptDevices[userEmail+"|"+deviceID]; exempt {
		return true
	}

	l.mu.Lock()
	entry, ok := l.limits[key]
	if !ok {
		burst := int(l.cfg.Threshold)
		if burst < 1 {
			burst = 1
		}
		perSecond := rate.Limit(1)
		if l.cfg.Cooloff > 0 {
			perSecond = rate.Limit(float64(l.cfg.Threshold) * float64(time.Second) / float64(l.cfg.Cooloff))
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(perSecond, burst)}
		l.limits[key] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	allowed := limiter.Allow()
	if !allowed {
		endpoint := "unknown"
		if r != nil && r.URL != nil {
			endpoint = r.URL.Path
		}
		metrics.RateLimitRejections.WithLabelValues(endpoint).Inc()
	}
	return allowed
}

func callerKey(r *http.Request, userEmail, deviceID string) string {
	if userEmail != "" || deviceID != "" {
		return userEmail + "|" + deviceID
	}
	if ip := remoteIP(r); ip != nil {
		return ip.String()
	}
	if r != nil {
		return r.RemoteAddr
	}
	return "unknown"
}

// remoteIP extracts the client address, trusting X-Forwarded-For only when
// the direct connection is loopback (i.e. behind a local reverse proxy),
// matching the teacher's requestIP spoof-resistance rule.
func remoteIP(r *http.Request) net.IP {
	if r == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	remote := net.ParseIP(strings.TrimSpace(host))
	if remote == nil {
		return nil
	}
	if !remote.IsLoopback() {
		return remote
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	for _, part := range strings.Split(forwarded, ",") {
		part = strings.TrimSpace(part)
		if ip := net.ParseIP(part); ip != nil && !ip.IsLoopback() {
			return ip
		}
	}
	return remote
}
