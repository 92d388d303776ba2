package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// accessLog writes one structured line per request.
func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("ip", clientIP(r)),
				zap.String("user_agent", r.UserAgent()),
				zap.Duration("latency", time.Since(start)),
			}
			switch {
			case status >= http.StatusInternalServerError:
				log.Error("request", fields...)
			case status >= http.StatusBadRequest:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// joinLimiter throttles room-code guesses per client address.
type joinLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newJoinLimiter(limit rate.Limit, burst int) *joinLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &joinLimiter{limit: limit, burst: burst, visitors: map[string]*rate.Limiter{}}
}

func (l *joinLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.visitors[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.visitors[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// middleware limits POST requests whose path is one of paths.
func (l *joinLimiter) middleware(paths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && matchesAny(r.URL.Path, paths) && !l.allow(clientIP(r)) {
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many join attempts", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func matchesAny(p string, paths []string) bool {
	p = strings.TrimRight(p, "/")
	for _, candidate := range paths {
		if p == candidate {
			return true
		}
	}
	return false
}
