package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/server/auth"
	"github.com/dmitrijs2005/balli/internal/server/models"
	"github.com/dmitrijs2005/balli/internal/server/records"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- фейковый сервис ---

type fakeService struct {
	pushFn  func(ctx context.Context, userID string, c models.Category, recs []models.Record) (records.PushResult, error)
	pullFn  func(ctx context.Context, userID string, c models.Category) ([]models.Record, error)
	pingErr error
}

func (f *fakeService) Push(ctx context.Context, userID string, c models.Category, recs []models.Record) (records.PushResult, error) {
	if f.pushFn != nil {
		return f.pushFn(ctx, userID, c, recs)
	}
	return records.PushResult{Applied: len(recs)}, nil
}

func (f *fakeService) Pull(ctx context.Context, userID string, c models.Category) ([]models.Record, error) {
	if f.pullFn != nil {
		return f.pullFn(ctx, userID, c)
	}
	return []models.Record{}, nil
}

func (f *fakeService) Ping(context.Context) error { return f.pingErr }

var secret = []byte("test-secret")

func newServer(t *testing.T, svc SyncService) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "balli_test_total"}))
	ts := httptest.NewServer(NewRouter(RouterDeps{
		Service:      svc,
		SecretKey:    secret,
		Gatherer:     reg,
		Logger:       logging.Nop(),
		MaxBodyBytes: 1024,
	}))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, user, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		tok, err := auth.GenerateToken(user, secret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

const pushBody = `{"userId":"u1","records":[{"id":"r1","userId":"u1","category":"facts","lastModifiedAt":"2026-05-01T10:00:00Z","payload":{"text":"hi"}}]}`

func TestPush_RoutesEveryCategory(t *testing.T) {
	var got []models.Category
	svc := &fakeService{pushFn: func(_ context.Context, userID string, c models.Category, recs []models.Record) (records.PushResult, error) {
		assert.Equal(t, "u1", userID)
		require.Len(t, recs, 1)
		assert.Equal(t, "r1", recs[0].ID)
		assert.JSONEq(t, `{"text":"hi"}`, string(recs[0].Payload))
		got = append(got, c)
		return records.PushResult{Applied: 1}, nil
	}}
	ts := newServer(t, svc)

	for _, c := range models.Categories {
		resp := do(t, ts, http.MethodPost, "/sync"+c.Path(), "u1", pushBody)
		require.Equal(t, http.StatusOK, resp.StatusCode, c)

		var res records.PushResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.Equal(t, 1, res.Applied)
	}
	assert.Equal(t, models.Categories, got)
}

func TestPush_Rejections(t *testing.T) {
	ts := newServer(t, &fakeService{})

	tests := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{"no token", "", pushBody, http.StatusUnauthorized},
		{"other user", "u2", pushBody, http.StatusForbidden},
		{"bad json", "u1", "{", http.StatusBadRequest},
		{"missing user", "u1", `{"records":[]}`, http.StatusBadRequest},
		{"too large", "u1", `{"userId":"u1","pad":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, ts, http.MethodPost, "/syncFacts", tt.user, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestPush_ServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", common.E(common.KindValidation, "push", errors.New("r1: missing id")), http.StatusBadRequest, "validation"},
		{"conflict", common.ErrConflict, http.StatusConflict, "conflict"},
		{"db down", errors.New("db error: connection refused"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newServer(t, &fakeService{pushFn: func(context.Context, string, models.Category, []models.Record) (records.PushResult, error) {
				return records.PushResult{}, tt.err
			}})

			resp := do(t, ts, http.MethodPost, "/syncFacts", "u1", pushBody)
			assert.Equal(t, tt.status, resp.StatusCode)

			e := decodeError(t, resp)
			assert.Equal(t, tt.code, e.Code)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, e.Message, "connection refused")
			}
		})
	}
}

func TestPull(t *testing.T) {
	lm := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := &fakeService{pullFn: func(_ context.Context, userID string, c models.Category) ([]models.Record, error) {
		assert.Equal(t, models.Category("summaries"), c)
		return []models.Record{{ID: "r1", UserID: userID, Category: c, LastModifiedAt: lm, Deleted: true}}, nil
	}}
	ts := newServer(t, svc)

	resp := do(t, ts, http.MethodGet, "/syncSummaries?userId=u1", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body recordsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Records, 1)
	assert.True(t, body.Records[0].Deleted)
	assert.True(t, lm.Equal(body.Records[0].LastModifiedAt))

	resp = do(t, ts, http.MethodGet, "/syncSummaries?userId=u2", "u1", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUnknownCategoryIsNotRouted(t *testing.T) {
	ts := newServer(t, &fakeService{})
	resp := do(t, ts, http.MethodGet, "/syncSecrets?userId=u1", "u1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newServer(t, &fakeService{})
	resp := do(t, ts, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	down := newServer(t, &fakeService{pingErr: errors.New("no db")})
	resp = do(t, down, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
