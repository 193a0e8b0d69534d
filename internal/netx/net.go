// Package netx performs single JSON-over-HTTP exchanges and classifies their
// failures into the common error taxonomy. Retrying is left to callers.
package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
)

const maxErrorBody = 4 << 10

// Request describes one call. Body is JSON-encoded; Form, when set, is sent
// as application/x-www-form-urlencoded instead.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
	Form   url.Values
}

// HTTPError carries the remote's answer for a non-2xx status.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("http %d", e.StatusCode)
	}
}

// DoJSON sends r and decodes a 2xx JSON body into out (when out is non-nil).
// Non-2xx answers become *common.Error wrapping *HTTPError, transport
// failures become network errors and undecodable bodies validation errors.
func DoJSON(ctx context.Context, hc *http.Client, op string, r Request, out any) error {
	req, err := newRequest(ctx, r)
	if err != nil {
		return common.E(common.KindInternal, op, err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return TransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return common.FromStatus(op, resp.StatusCode, readHTTPError(resp))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return TransportError(ctx, op, err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return common.E(common.KindValidation, op, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

func newRequest(ctx context.Context, r Request) (*http.Request, error) {
	var body io.Reader
	contentType := ""
	switch {
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.Body != nil:
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func readHTTPError(resp *http.Response) *HTTPError {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	herr := &HTTPError{
		StatusCode: resp.StatusCode,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(payload, &body) == nil && (body.Code != "" || body.Message != "") {
		herr.Code = body.Code
		herr.Message = body.Message
	} else {
		herr.Message = strings.TrimSpace(string(payload))
	}
	return herr
}

// TransportError classifies a failure that happened before any status was
// received. A cancelled caller context is returned as is.
func TransportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return common.E(common.KindNetwork, op, fmt.Errorf("%w: %w", common.ErrTimeout, err))
	}
	return common.E(common.KindNetwork, op, err)
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

// RetryAfterOf extracts the server-requested delay from an error returned by DoJSON.
func RetryAfterOf(err error) time.Duration {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.RetryAfter
	}
	return 0
}
