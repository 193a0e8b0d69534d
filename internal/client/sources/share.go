package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/netx"
	"golang.org/x/time/rate"
)

const (
	shareLoginPath = "/ShareWebServices/Services/General/LoginPublisherAccountByName"
	shareReadPath  = "/ShareWebServices/Services/Publisher/ReadPublisherLatestGlucoseValues"

	// shareMaxMinutes is the furthest back the share feed answers.
	shareMaxMinutes = 1440
	shareInterval   = 5 * time.Minute

	emptySession = "00000000-0000-0000-0000-000000000000"
)

var shareSessionErrors = map[string]bool{
	"SessionIdNotFound": true,
	"SessionNotValid":   true,
}

// shareAccountErrors are login refusals; retrying the same password cannot help.
var shareAccountErrors = map[string]bool{
	"AccountPasswordInvalid":             true,
	"SSO_AuthenticateAccountNotFound":    true,
	"SSO_AuthenticatePasswordInvalid":    true,
	"SSO_AuthenticateMaxAttemptsExceeed": true,
}

type ShareConfig struct {
	BaseURL       string
	ApplicationID string
	// SessionTTL is the expiry recorded with a fresh session id.
	SessionTTL time.Duration
}

// ShareAdapter reads the near-real-time feed with a session id. The
// account password lives only in memory: after Login the adapter can log
// in again when the service drops the session.
type ShareAdapter struct {
	cfg     ShareConfig
	tokens  TokenStore
	opts    Options
	limiter *rate.Limiter

	mu       sync.Mutex
	account  string
	password string
}

func NewShareAdapter(cfg ShareConfig, tokens TokenStore, opts Options) *ShareAdapter {
	opts = opts.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 8 * time.Hour
	}
	return &ShareAdapter{cfg: cfg, tokens: tokens, opts: opts, limiter: opts.limiter()}
}

func (a *ShareAdapter) Source() models.Source { return models.SourceShare }

// Login opens a session and stores its id.
func (a *ShareAdapter) Login(ctx context.Context, account, password string) error {
	if _, err := a.login(ctx, account, password); err != nil {
		return err
	}
	a.mu.Lock()
	a.account, a.password = account, password
	a.mu.Unlock()
	return nil
}

func (a *ShareAdapter) login(ctx context.Context, account, password string) (*models.TokenInfo, error) {
	const op = "share.login"
	if err := wait(ctx, a.limiter, op); err != nil {
		return nil, err
	}

	var session string
	err := netx.DoJSON(ctx, a.opts.HTTPClient, op, netx.Request{
		Method: http.MethodPost,
		URL:    a.cfg.BaseURL + shareLoginPath,
		Body: map[string]string{
			"accountName":   account,
			"password":      password,
			"applicationId": a.cfg.ApplicationID,
		},
	}, &session)
	if err != nil {
		var herr *netx.HTTPError
		if errors.As(err, &herr) && shareAccountErrors[herr.Code] {
			return nil, &common.Error{Kind: common.KindAuth, Op: op, Status: herr.StatusCode, Err: herr}
		}
		return nil, err
	}
	if session == "" || session == emptySession {
		return nil, common.E(common.KindAuth, op, fmt.Errorf("share rejected account %q", account))
	}

	tok := models.TokenInfo{
		Service:     models.ServiceShare,
		AccessToken: session,
		Expiry:      a.opts.Clock.Now().Add(a.cfg.SessionTTL),
	}
	if err := a.tokens.StoreToken(ctx, tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// relogin opens a new session with the remembered account. If that is
// refused the stored session and the password are dropped: only an
// explicit Login can recover.
func (a *ShareAdapter) relogin(ctx context.Context) (*models.TokenInfo, error) {
	a.mu.Lock()
	account, password := a.account, a.password
	a.mu.Unlock()

	var tok *models.TokenInfo
	var err error
	if account == "" {
		err = common.E(common.KindAuth, "share.login", errors.New("share session expired, log in again"))
	} else {
		tok, err = a.login(ctx, account, password)
	}
	if err == nil || !errors.Is(err, common.ErrAuth) {
		return tok, err
	}

	a.mu.Lock()
	if a.account == account {
		a.account, a.password = "", ""
	}
	a.mu.Unlock()
	a.opts.Log.Warn(ctx, "share login refused, clearing session", "error", err)
	if cerr := a.tokens.Clear(ctx, models.ServiceShare); cerr != nil {
		a.opts.Log.Error(ctx, "failed to clear share session", "error", cerr)
	}
	return nil, err
}

type shareReading struct {
	WT    string          `json:"WT"`
	Value int             `json:"Value"`
	Trend json.RawMessage `json:"Trend"`
}

// FetchReadings asks for the latest values covering the window. The feed
// only looks back from now, so readings before the window start or at or
// after its end are dropped.
func (a *ShareAdapter) FetchReadings(ctx context.Context, userID string, window models.TimeRange) (out []models.GlucoseReading, err error) {
	const op = "share.fetch"
	defer func() { a.opts.Metrics.SourceFetch(string(models.SourceShare), outcome(err)) }()

	if err := window.Validate(); err != nil {
		return nil, err
	}

	var tok *models.TokenInfo
	relogged := false
	if a.tokens.IsExpired(ctx, models.ServiceShare) {
		if tok, err = a.relogin(ctx); err != nil {
			return nil, err
		}
		relogged = true
	} else if tok, err = token(ctx, a.tokens, models.ServiceShare, op); err != nil {
		return nil, err
	}

	minutes, count := shareSpan(a.opts.Clock.Now(), window)
	if minutes == 0 {
		return nil, nil
	}

	raw, err := a.read(ctx, tok.AccessToken, minutes, count)
	if err != nil && isSessionError(err) && !relogged {
		a.opts.Log.Info(ctx, "share session rejected, logging in again", "user_id", userID)
		if tok, err = a.relogin(ctx); err != nil {
			return nil, err
		}
		raw, err = a.read(ctx, tok.AccessToken, minutes, count)
	}
	if err != nil {
		return nil, err
	}

	out = make([]models.GlucoseReading, 0, len(raw))
	for _, r := range raw {
		ts, err := ParseShareDate(r.WT)
		if err != nil {
			return nil, common.E(common.KindValidation, op, err)
		}
		out = append(out, models.GlucoseReading{
			UserID:    userID,
			Timestamp: ts,
			Value:     r.Value,
			Source:    models.SourceShare,
			Trend:     parseShareTrend(r.Trend),
		})
	}
	return inWindow(out, window), nil
}

// shareSpan converts the window into the minutes/maxCount the feed wants:
// minutes back from now to the window start, capped at one day.
func shareSpan(now time.Time, w models.TimeRange) (minutes, count int) {
	if !w.Start.Before(now) {
		return 0, 0
	}
	minutes = int(now.Sub(w.Start).Minutes() + 0.5)
	if minutes > shareMaxMinutes {
		minutes = shareMaxMinutes
	}
	if minutes < 1 {
		minutes = 1
	}
	count = minutes/int(shareInterval/time.Minute) + 1
	return minutes, count
}

func (a *ShareAdapter) read(ctx context.Context, session string, minutes, count int) ([]shareReading, error) {
	const op = "share.read"
	if err := wait(ctx, a.limiter, op); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("sessionId", session)
	q.Set("minutes", strconv.Itoa(minutes))
	q.Set("maxCount", strconv.Itoa(count))

	var out []shareReading
	err := netx.DoJSON(ctx, a.opts.HTTPClient, op, netx.Request{
		Method: http.MethodPost,
		URL:    a.cfg.BaseURL + shareReadPath + "?" + q.Encode(),
	}, &out)
	return out, err
}

func isSessionError(err error) bool {
	var herr *netx.HTTPError
	if errors.As(err, &herr) && shareSessionErrors[herr.Code] {
		return true
	}
	return errors.Is(err, common.ErrAuth)
}

var shareDate = regexp.MustCompile(`^/?Date\((-?\d+)([+-]\d{4})?\)/?$`)

// ParseShareDate reads "Date(1690000000000)" and "Date(1690000000000-0400)".
// The number is always epoch milliseconds; the offset only describes the
// device's local zone and does not shift the instant.
func ParseShareDate(s string) (time.Time, error) {
	m := shareDate.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, fmt.Errorf("bad share date %q", s)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad share date %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// parseShareTrend accepts both the numeric and the named form.
func parseShareTrend(raw json.RawMessage) models.Trend {
	if len(raw) == 0 {
		return ""
	}
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		return models.TrendFromCode(code)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return models.ParseTrend(name)
	}
	return ""
}
