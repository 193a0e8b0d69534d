package netx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON_SuccessDecodesBody(t *testing.T) {
	var gotMethod, gotCT, gotAuth string
	var gotBody map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCT = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"records":[{"id":"a"}]}`))
	}))
	defer ts.Close()

	var out struct {
		Records []struct {
			ID string `json:"id"`
		} `json:"records"`
	}
	err := DoJSON(context.Background(), ts.Client(), "op", Request{
		Method: http.MethodPost,
		URL:    ts.URL + "/syncFacts",
		Header: http.Header{"Authorization": {"Bearer t"}},
		Body:   map[string]any{"userId": "u1"},
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "Bearer t", gotAuth)
	assert.Equal(t, "u1", gotBody["userId"])
	require.Len(t, out.Records, 1)
	assert.Equal(t, "a", out.Records[0].ID)
}

func TestDoJSON_FormBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	err := DoJSON(context.Background(), ts.Client(), "op", Request{
		Method: http.MethodPost,
		URL:    ts.URL,
		Form:   url.Values{"grant_type": {"refresh_token"}},
	}, nil)
	require.NoError(t, err)
}

func TestDoJSON_StatusClassified(t *testing.T) {
	tests := []struct {
		status int
		kind   common.Kind
		target error
	}{
		{http.StatusUnauthorized, common.KindAuth, common.ErrAuth},
		{http.StatusTooManyRequests, common.KindRateLimit, common.ErrRateLimited},
		{http.StatusServiceUnavailable, common.KindNetwork, common.ErrNetwork},
		{http.StatusNotFound, common.KindValidation, common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code":"x","message":"nope"}`))
			}))
			defer ts.Close()

			err := DoJSON(context.Background(), ts.Client(), "op", Request{Method: http.MethodGet, URL: ts.URL}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.kind, common.KindOf(err))

			var herr *HTTPError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, tt.status, herr.StatusCode)
			assert.Equal(t, "nope", herr.Message)
			assert.Equal(t, 2*time.Second, RetryAfterOf(err))
		})
	}
}

func TestDoJSON_MalformedBodyIsValidationError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"records": [`)
	}))
	defer ts.Close()

	var out map[string]any
	err := DoJSON(context.Background(), ts.Client(), "op", Request{Method: http.MethodGet, URL: ts.URL}, &out)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestDoJSON_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	err := DoJSON(context.Background(), http.DefaultClient, "op", Request{Method: http.MethodGet, URL: ts.URL}, nil)
	require.ErrorIs(t, err, common.ErrNetwork)
	assert.True(t, common.IsRetryable(err))
}

func TestDoJSON_DeadlineIsTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := DoJSON(ctx, ts.Client(), "op", Request{Method: http.MethodGet, URL: ts.URL}, nil)
	require.ErrorIs(t, err, common.ErrTimeout)
	require.ErrorIs(t, err, common.ErrNetwork)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, 3*time.Second, ParseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-1"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, ParseRetryAfter(future), 50*time.Minute)
}
