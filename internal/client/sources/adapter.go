// Package sources talks to the two CGM feeds. Both adapters return
// normalized readings for a window; neither merges, stores or validates
// values beyond what the wire format demands.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/timex"
	"golang.org/x/time/rate"
)

// Adapter fetches readings of one source.
type Adapter interface {
	Source() models.Source
	FetchReadings(ctx context.Context, userID string, window models.TimeRange) ([]models.GlucoseReading, error)
}

// TokenStore is the part of the credential store the adapters use.
type TokenStore interface {
	GetToken(ctx context.Context, service models.Service) (*models.TokenInfo, error)
	StoreToken(ctx context.Context, tok models.TokenInfo) error
	IsExpired(ctx context.Context, service models.Service) bool
	// Clear drops a credential after an unrecoverable auth failure.
	Clear(ctx context.Context, service models.Service) error
}

// Options are shared by both adapters.
type Options struct {
	HTTPClient *http.Client
	// RatePerSecond bounds outgoing requests; zero disables limiting.
	RatePerSecond float64
	Burst         int
	Clock         timex.Clock
	Metrics       *metrics.Collector
	Log           logging.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Log == nil {
		o.Log = logging.Nop()
	}
	return o
}

func (o Options) limiter() *rate.Limiter {
	if o.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, o.Burst)
	}
	return rate.NewLimiter(rate.Limit(o.RatePerSecond), o.Burst)
}

func wait(ctx context.Context, l *rate.Limiter, op string) error {
	if err := l.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return common.E(common.KindRateLimit, op, err)
	}
	return nil
}

// token loads the stored credential of service. A missing token or a
// locked vault is an authentication failure.
func token(ctx context.Context, ts TokenStore, service models.Service, op string) (*models.TokenInfo, error) {
	tok, err := ts.GetToken(ctx, service)
	if err != nil {
		return nil, common.E(common.KindAuth, op, err)
	}
	if tok == nil {
		return nil, common.E(common.KindAuth, op, fmt.Errorf("no %s credentials stored", service))
	}
	return tok, nil
}

// inWindow keeps readings inside w, preserving order.
func inWindow(rs []models.GlucoseReading, w models.TimeRange) []models.GlucoseReading {
	out := rs[:0]
	for _, r := range rs {
		if w.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(common.KindOf(err))
}
