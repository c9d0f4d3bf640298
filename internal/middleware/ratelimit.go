package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultWritesPerMinute is the default per-IP limit on rule mutations.
	DefaultWritesPerMinute = 60

	// DefaultMaxTrackedIPs is the maximum number of IPs tracked to prevent unbounded memory.
	DefaultMaxTrackedIPs = 10000

	cleanupInterval = time.Minute
	staleThreshold  = 5 * time.Minute
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WriteLimiter caps how many rule mutations a single client IP may perform
// per minute. Reads are never limited; a full snapshot rebuild follows every
// write, so the write path is the one worth guarding.
type WriteLimiter struct {
	mu            sync.Mutex
	entries       map[string]*ipEntry
	maxPerMinute  int
	maxTrackedIPs int
	cancel        context.CancelFunc
}

// NewWriteLimiter creates a per-IP write limiter allowing maxPerMinute
// mutations per minute. Pass 0 to use DefaultWritesPerMinute. The background
// cleanup goroutine runs until ctx ends or Stop is called.
func NewWriteLimiter(ctx context.Context, maxPerMinute int) *WriteLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultWritesPerMinute
	}
	ctx, cancel := context.WithCancel(ctx)
	wl := &WriteLimiter{
		entries:       make(map[string]*ipEntry),
		maxPerMinute:  maxPerMinute,
		maxTrackedIPs: DefaultMaxTrackedIPs,
		cancel:        cancel,
	}
	go wl.cleanup(ctx)
	return wl
}

// Allow consumes one write token for the given IP and reports whether the
// mutation is within the configured limit.
func (wl *WriteLimiter) Allow(ip string) bool {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	e := wl.getOrCreateEntryLocked(ip, time.Now())
	return e.limiter.Allow()
}

func (wl *WriteLimiter) getOrCreateEntryLocked(ip string, now time.Time) *ipEntry {
	e, ok := wl.entries[ip]
	if !ok {
		if len(wl.entries) >= wl.maxTrackedIPs {
			wl.evictOldestLocked()
		}
		r := rate.Limit(float64(wl.maxPerMinute) / 60.0)
		e = &ipEntry{
			limiter:  rate.NewLimiter(r, wl.maxPerMinute),
			lastSeen: now,
		}
		wl.entries[ip] = e
	}
	e.lastSeen = now
	return e
}

// Stop cancels the background cleanup goroutine.
func (wl *WriteLimiter) Stop() {
	wl.cancel()
}

func (wl *WriteLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wl.removeStale()
		}
	}
}

func (wl *WriteLimiter) removeStale() {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	now := time.Now()
	for ip, e := range wl.entries {
		if now.Sub(e.lastSeen) > staleThreshold {
			delete(wl.entries, ip)
		}
	}
}

func (wl *WriteLimiter) evictOldestLocked() {
	var oldestIP string
	var oldestTime time.Time
	first := true
	for ip, e := range wl.entries {
		if first || e.lastSeen.Before(oldestTime) {
			oldestIP = ip
			oldestTime = e.lastSeen
			first = false
		}
	}
	if oldestIP != "" {
		delete(wl.entries, oldestIP)
	}
}

// WriteRateLimit returns middleware that applies limiter to mutating requests
// (anything other than GET, HEAD, and OPTIONS). Rejected requests get a 429
// and onRejected, when set, is invoked once per rejection.
func WriteRateLimit(limiter *WriteLimiter, onRejected func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow(ExtractIP(r.RemoteAddr)) {
				if onRejected != nil {
					onRejected()
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractIP extracts the IP address from a RemoteAddr string, stripping the port.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr // already just an IP
	}
	return host
}
