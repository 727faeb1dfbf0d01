package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// companyLimiter holds one token bucket per company.
type companyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newCompanyLimiter allows perMinute requests per company with the same
// burst. perMinute <= 0 disables limiting.
func newCompanyLimiter(perMinute int) *companyLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &companyLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
	}
}

func (l *companyLimiter) allow(companyID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[companyID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[companyID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// middleware must run after authentication.
func (l *companyLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := SessionFrom(r.Context())
		if !l.allow(s.CompanyID) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "upload rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
