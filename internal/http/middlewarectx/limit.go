package middlewarectx

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/render"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/subscription-tracker/internal/config"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/response"
)

// RateLimiter ограничивает частоту запросов с одного адреса.
// Лимитеры неактивных клиентов удаляются через cfg.Lifetime.
type RateLimiter struct {
	limiters *gocache.Cache
	rps      rate.Limit
	burst    int
	lifetime time.Duration
	log      *slog.Logger
}

// NewRateLimiter создает RateLimiter.
func NewRateLimiter(cfg config.RateLimit, log *slog.Logger) *RateLimiter {
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = 10 * time.Minute
	}
	return &RateLimiter{
		limiters: gocache.New(lifetime, lifetime),
		rps:      rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
		lifetime: lifetime,
		log:      log,
	}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Get(key); ok {
		lim := v.(*rate.Limiter)
		// продлеваем жизнь активного клиента
		l.limiters.Set(key, lim, l.lifetime)
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	if err := l.limiters.Add(key, lim, l.lifetime); err != nil {
		// лимитер уже создан параллельным запросом
		if v, ok := l.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Middleware возвращает 429, если клиент исчерпал лимит.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter(clientIP(r)).Allow() {
			l.log.Warn("too many requests", slog.String("client", clientIP(r)))
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, response.Error("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
