package api

import (
	"net/http"

	"github.com/alecgard/agentpay/internal/metrics"
	"github.com/alecgard/agentpay/internal/ratelimit"
)

// payerLimiter bounds how many payments and escrows one agent can submit per
// window, independent of which client submits them.
type payerLimiter struct {
	limiter *ratelimit.Limiter
	rate    int
	metrics *metrics.Metrics
}

func newPayerLimiter(l *ratelimit.Limiter, rate int, m *metrics.Metrics) *payerLimiter {
	return &payerLimiter{limiter: l, rate: rate, metrics: m}
}

// allow takes a token for payerID. When the bucket is empty it writes the 429
// response and returns false.
func (p *payerLimiter) allow(w http.ResponseWriter, payerID string) bool {
	if p == nil || p.limiter == nil || p.rate <= 0 || payerID == "" {
		return true
	}

	d := p.limiter.Take("payer:"+payerID, p.rate)
	ratelimit.SetHeaders(w, d)
	if !d.Allowed {
		if p.metrics != nil {
			p.metrics.IncRateLimitRejection("payer")
		}
		ratelimit.WriteRejection(w)
		return false
	}
	return true
}
