// Package syncer keeps memory records in step with the sync server. Every
// category is uploaded, downloaded and merged by last-write-wins on
// LastModifiedAt; ties keep the local copy.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/netx"
	"github.com/sethvargo/go-retry"
)

// Remote is the server side of a sync.
type Remote interface {
	Upload(ctx context.Context, category models.Category, userID string, records []models.SyncableRecord) error
	Download(ctx context.Context, category models.Category, userID string) ([]models.SyncableRecord, error)
}

// TokenSource supplies the bearer token of the sync service.
type TokenSource interface {
	GetToken(ctx context.Context, service models.Service) (*models.TokenInfo, error)
}

type RemoteConfig struct {
	BaseURL string
	// MaxRetries is the number of attempts after the first one.
	MaxRetries uint64
	// BaseDelay is the first backoff delay; each retry doubles it.
	BaseDelay time.Duration
	// Timeout bounds one call including all its retries.
	Timeout time.Duration
}

func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, Timeout: 30 * time.Second}
}

// HTTPRemote talks JSON over HTTP: POST /sync<Category> and
// GET /sync<Category>?userId=.
type HTTPRemote struct {
	cfg     RemoteConfig
	hc      *http.Client
	tokens  TokenSource
	log     logging.Logger
	metrics *metrics.Collector
}

type RemoteOption func(*HTTPRemote)

func WithRemoteMetrics(c *metrics.Collector) RemoteOption {
	return func(r *HTTPRemote) { r.metrics = c }
}

// NewHTTPRemote builds a remote. tokens may be nil for servers without
// authentication.
func NewHTTPRemote(cfg RemoteConfig, hc *http.Client, tokens TokenSource, log logging.Logger, opts ...RemoteOption) *HTTPRemote {
	if hc == nil {
		hc = http.DefaultClient
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRemoteConfig().BaseDelay
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	r := &HTTPRemote{cfg: cfg, hc: hc, tokens: tokens, log: log}
	for _, o := range opts {
		o(r)
	}
	return r
}

type uploadRequest struct {
	UserID  string                  `json:"userId"`
	Records []models.SyncableRecord `json:"records"`
}

type recordsResponse struct {
	Records []models.SyncableRecord `json:"records"`
}

func (r *HTTPRemote) endpoint(c models.Category) string {
	return r.cfg.BaseURL + "/sync" + c.Path()
}

func (r *HTTPRemote) Upload(ctx context.Context, category models.Category, userID string, records []models.SyncableRecord) error {
	op := "sync.upload " + string(category)
	return r.do(ctx, op, netx.Request{
		Method: http.MethodPost,
		URL:    r.endpoint(category),
		Body:   uploadRequest{UserID: userID, Records: records},
	}, nil)
}

func (r *HTTPRemote) Download(ctx context.Context, category models.Category, userID string) ([]models.SyncableRecord, error) {
	op := "sync.download " + string(category)
	var resp recordsResponse
	err := r.do(ctx, op, netx.Request{
		Method: http.MethodGet,
		URL:    r.endpoint(category) + "?" + url.Values{"userId": {userID}}.Encode(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// do runs one call with exponential backoff. Only retryable failures
// consume the retry budget; a permanent 4xx is returned at once. A
// Retry-After answer raises the next delay to at least that long.
func (r *HTTPRemote) do(ctx context.Context, op string, req netx.Request, out any) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	if r.tokens != nil {
		tok, err := r.tokens.GetToken(ctx, models.ServiceSync)
		if err != nil {
			return common.E(common.KindAuth, op, err)
		}
		if tok == nil {
			return common.E(common.KindAuth, op, errors.New("no sync token stored"))
		}
		req.Header = http.Header{common.AuthorizationHeaderName: {common.BearerPrefix + tok.AccessToken}}
	}

	var (
		minDelay time.Duration
		attempt  int
	)
	exp := retry.WithMaxRetries(r.cfg.MaxRetries, retry.NewExponential(r.cfg.BaseDelay))
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := exp.Next()
		if stop {
			return 0, true
		}
		if minDelay > next {
			next = minDelay
		}
		minDelay = 0
		return next, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			r.metrics.SyncRetry()
		}
		err := netx.DoJSON(ctx, r.hc, op, req, out)
		if err == nil {
			return nil
		}
		if !common.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		minDelay = netx.RetryAfterOf(err)
		r.log.Warn(ctx, "sync call failed, retrying", "op", op, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, common.ErrTimeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return common.E(common.KindNetwork, op, fmt.Errorf("%w after %d attempts: %w", common.ErrTimeout, attempt, err))
	}
	return err
}
