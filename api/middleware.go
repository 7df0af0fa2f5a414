package api

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"aegis/config"
)

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func tierLimiter(tier config.RateTier) *rate.Limiter {
	window := tier.Window
	if window <= 0 {
		window = time.Minute
	}
	limit := rate.Limit(float64(tier.Limit) / window.Seconds())
	burst := tier.Burst
	if burst <= 0 {
		burst = tier.Limit
	}
	return rate.NewLimiter(limit, burst)
}

// takeLimiter returns the per-key limiter for a tier map, creating it on
// first sight. The limiter reference is captured under the lock so the
// cleanup goroutine can never race a caller.
func (a *API) takeLimiter(limiters map[string]*rateLimiterEntry, key string, tier config.RateTier) *rate.Limiter {
	a.rateLimitersMu.Lock()
	defer a.rateLimitersMu.Unlock()
	entry, exists := limiters[key]
	if !exists {
		entry = &rateLimiterEntry{limiter: tierLimiter(tier), lastSeen: time.Now()}
		limiters[key] = entry
	} else {
		entry.lastSeen = time.Now()
	}
	return entry.limiter
}

func (a *API) isExemptIP(ip string) bool {
	_, ok := a.exemptIPs[ip]
	return ok
}

// rateLimitMiddleware enforces the global tier plus the per-caller API tier.
// The per-caller key is the authenticated username when available, the
// client IP otherwise.
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if a.isExemptIP(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if !a.globalLimiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		key := ip
		if username, ok := GetUsername(r.Context()); ok && username != "" {
			key = username
		}
		limiter := a.takeLimiter(a.apiLimiters, key, a.config.API.RateLimit.API)
		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loginRateLimitMiddleware enforces the stricter per-IP login tier. Applied
// only to the login route, ahead of any credential checking.
func (a *API) loginRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if a.isExemptIP(ip) {
			next.ServeHTTP(w, r)
			return
		}
		limiter := a.takeLimiter(a.loginLimiters, ip, a.config.API.RateLimit.Login)
		if !limiter.Allow() {
			a.logger.Warnw("Login rate limit exceeded", "ip", sanitizeLogMessage(ip))
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maintenanceLoop periodically drops idle rate limiters and expired revoked
// tokens to bound memory.
func (a *API) maintenanceLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.rateLimitersMu.Lock()
			for _, limiters := range []map[string]*rateLimiterEntry{a.apiLimiters, a.loginLimiters} {
				for key, entry := range limiters {
					if time.Since(entry.lastSeen) > 1*time.Hour {
						delete(limiters, key)
					}
				}
			}
			a.rateLimitersMu.Unlock()

			a.cleanupRevokedTokens()
		case <-a.stopCh:
			return
		}
	}
}

// corsMiddleware adds CORS headers for configured origins.
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range a.config.API.AllowedOrigins {
			if origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if a.config.API.TLS {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
