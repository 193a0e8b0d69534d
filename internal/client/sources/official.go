package sources

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
	"github.com/dmitrijs2005/balli/internal/netx"
	"golang.org/x/time/rate"
)

const (
	officialTimeLayout = "2006-01-02T15:04:05"
	// officialMaxSpan is the longest window one egvs request may cover.
	officialMaxSpan = 30 * 24 * time.Hour
)

type OfficialConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// OfficialAdapter reads the delayed regulated feed with OAuth bearer tokens.
type OfficialAdapter struct {
	cfg     OfficialConfig
	tokens  TokenStore
	opts    Options
	limiter *rate.Limiter
}

func NewOfficialAdapter(cfg OfficialConfig, tokens TokenStore, opts Options) *OfficialAdapter {
	opts = opts.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OfficialAdapter{cfg: cfg, tokens: tokens, opts: opts, limiter: opts.limiter()}
}

func (a *OfficialAdapter) Source() models.Source { return models.SourceOfficial }

type egvsResponse struct {
	Records []struct {
		SystemTime string `json:"systemTime"`
		Value      *int   `json:"value"`
		Status     string `json:"status"`
		Trend      string `json:"trend"`
	} `json:"records"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// FetchReadings requests the window in slices of at most 30 days. The
// stored token is refreshed up front when expired, and once more if the
// server answers 401.
func (a *OfficialAdapter) FetchReadings(ctx context.Context, userID string, window models.TimeRange) (out []models.GlucoseReading, err error) {
	const op = "official.fetch"
	defer func() { a.opts.Metrics.SourceFetch(string(models.SourceOfficial), outcome(err)) }()

	if err := window.Validate(); err != nil {
		return nil, err
	}

	tok, err := token(ctx, a.tokens, models.ServiceOfficial, op)
	if err != nil {
		return nil, err
	}
	refreshed := false
	if a.tokens.IsExpired(ctx, models.ServiceOfficial) {
		if tok, err = a.refresh(ctx, tok); err != nil {
			return nil, err
		}
		refreshed = true
	}

	for start := window.Start; start.Before(window.End); start = start.Add(officialMaxSpan) {
		end := start.Add(officialMaxSpan)
		if end.After(window.End) {
			end = window.End
		}
		slice := models.TimeRange{Start: start, End: end}

		rs, err := a.egvs(ctx, tok, userID, slice)
		if err != nil && errors.Is(err, common.ErrAuth) && !refreshed {
			a.opts.Log.Info(ctx, "official token rejected, refreshing", "user_id", userID)
			if tok, err = a.refresh(ctx, tok); err != nil {
				return nil, err
			}
			refreshed = true
			rs, err = a.egvs(ctx, tok, userID, slice)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return inWindow(out, window), nil
}

func (a *OfficialAdapter) egvs(ctx context.Context, tok *models.TokenInfo, userID string, w models.TimeRange) ([]models.GlucoseReading, error) {
	const op = "official.egvs"
	if err := wait(ctx, a.limiter, op); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("startDate", w.Start.UTC().Format(officialTimeLayout))
	q.Set("endDate", w.End.UTC().Format(officialTimeLayout))

	var resp egvsResponse
	err := netx.DoJSON(ctx, a.opts.HTTPClient, op, netx.Request{
		Method: http.MethodGet,
		URL:    a.cfg.BaseURL + "/v3/users/self/egvs?" + q.Encode(),
		Header: http.Header{common.AuthorizationHeaderName: {common.BearerPrefix + tok.AccessToken}},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]models.GlucoseReading, 0, len(resp.Records))
	for _, rec := range resp.Records {
		ts, err := parseOfficialTime(rec.SystemTime)
		if err != nil {
			return nil, common.E(common.KindValidation, op, err)
		}
		value := outOfRangeValue(rec.Status)
		if rec.Value != nil {
			value = *rec.Value
		}
		out = append(out, models.GlucoseReading{
			UserID:    userID,
			Timestamp: ts,
			Value:     value,
			Source:    models.SourceOfficial,
			Trend:     models.ParseTrend(rec.Trend),
		})
	}
	return out, nil
}

// outOfRangeValue stands in for a null egvs value. The feed reports LOW and
// HIGH readings that way; the substitute falls outside the valid range so
// the reading is rejected and recorded as a quality event downstream.
func outOfRangeValue(status string) int {
	switch strings.ToLower(status) {
	case "low":
		return models.MinGlucose - 1
	case "high":
		return models.MaxGlucose + 1
	default:
		return 0
	}
}

func parseOfficialTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(officialTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad systemTime %q", s)
	}
	return t, nil
}

// refresh exchanges the refresh token for a new access token. When the
// token endpoint refuses the grant the stored credentials are useless and
// get cleared, so later polls fail fast instead of retrying the grant.
func (a *OfficialAdapter) refresh(ctx context.Context, tok *models.TokenInfo) (*models.TokenInfo, error) {
	next, err := a.exchange(ctx, tok)
	var cerr *common.Error
	if errors.As(err, &cerr) && cerr.Kind == common.KindAuth && cerr.Op == "official.refresh" {
		a.opts.Log.Warn(ctx, "official refresh refused, clearing credentials", "error", err)
		if err := a.tokens.Clear(ctx, models.ServiceOfficial); err != nil {
			a.opts.Log.Error(ctx, "failed to clear official token", "error", err)
		}
	}
	return next, err
}

func (a *OfficialAdapter) exchange(ctx context.Context, tok *models.TokenInfo) (*models.TokenInfo, error) {
	const op = "official.refresh"
	if tok.RefreshToken == "" {
		return nil, common.E(common.KindAuth, op, common.ErrTokenExpired)
	}
	if err := wait(ctx, a.limiter, op); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.RefreshToken)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	if a.cfg.RedirectURI != "" {
		form.Set("redirect_uri", a.cfg.RedirectURI)
	}

	var resp tokenResponse
	err := netx.DoJSON(ctx, a.opts.HTTPClient, op, netx.Request{
		Method: http.MethodPost,
		URL:    a.cfg.BaseURL + "/v2/oauth2/token",
		Form:   form,
	}, &resp)
	if err != nil {
		// invalid_grant comes back as 400
		var cerr *common.Error
		if errors.As(err, &cerr) && (cerr.Status == http.StatusBadRequest || cerr.Status == http.StatusUnauthorized) {
			return nil, &common.Error{Kind: common.KindAuth, Op: op, Status: cerr.Status, Err: cerr.Err}
		}
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, common.E(common.KindAuth, op, common.ErrInvalidToken)
	}

	next := models.TokenInfo{
		Service:      models.ServiceOfficial,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}
	if resp.ExpiresIn > 0 {
		next.Expiry = a.opts.Clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if err := a.tokens.StoreToken(ctx, next); err != nil {
		return nil, err
	}
	a.opts.Log.Debug(ctx, "official token refreshed", "expiry", next.Expiry)
	return &next, nil
}
