package aliyundrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/pretty"
)

const (
	apiBaseURL    = "https://openapi.alipan.com"
	oauthHost     = "https://openapi.alipan.com"
	userAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/99.0.4844.83 Safari/537.36"
	originHeader  = "https://www.aliyundrive.com"
	refererHeader = "https://www.aliyundrive.com/"
)

// DriveType selects which of the user's drives to bind at startup.
type DriveType int

const (
	DriveTypeDefault DriveType = iota
	DriveTypeResource
	DriveTypeBackup
)

// refresher is the minimal surface Transport needs from the Token
// Manager to perform a reactive 401 refresh without importing it back
// (the two types are mutually referential in the design: Transport posts
// requests for TokenManager, TokenManager triggers refreshes for
// Transport's callers).
type refresher func(ctx context.Context) (RefreshResult, error)

// Transport is C2: issues authenticated JSON POSTs, transparently retries
// transient failures, and triggers token refresh on 401.
//
// The transient-failure retry (connect/timeout errors, exponential
// backoff 100ms-5s, max 3 retries) is delegated to
// github.com/hashicorp/go-retryablehttp's client, matching the pack's own
// choice of retryablehttp for this exact role (vendored in rclone). The
// reactive 401-refresh-and-retry-once and the 408/429/5xx single retry
// (steps 4-5) are layered on top, since retryablehttp has no concept of
// the token lifecycle.
type Transport struct {
	httpClient *http.Client
	apiBaseURL string
	oauthHost  string

	clientID     string
	clientSecret string

	preferHTTPDownload bool
}

// NewTransport builds the shared HTTP client: stable UA, pinned
// Origin/Referer, and a pool idle timeout shorter than OSS's own 60s idle
// close so a half-closed connection is never reused.
func NewTransport(clientID, clientSecret string, preferHTTPDownload bool) *Transport {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	// Only the connect/timeout case is retried here.
	// Status-code-driven retries (401/408/429/5xx) are a distinct,
	// single-retry layer implemented in postJSON/doRefresh so that a
	// logical request never issues more than two remote POSTs.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}
	rc.HTTPClient.Transport = &http.Transport{
		IdleConnTimeout: 50 * time.Second,
		DialContext:     (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
	}
	rc.HTTPClient.Timeout = 30 * time.Second

	base := rc.StandardClient()

	return &Transport{
		httpClient:         base,
		apiBaseURL:         apiBaseURL,
		oauthHost:          oauthHost,
		clientID:           clientID,
		clientSecret:       clientSecret,
		preferHTTPDownload: preferHTTPDownload,
	}
}

// WithBaseURL overrides the default API and OAuth hosts, letting callers
// point the transport at an alternate endpoint (an httptest.Server, most
// often). Returns the receiver for chaining onto NewTransport.
func (t *Transport) WithBaseURL(apiBaseURL, oauthHost string) *Transport {
	t.apiBaseURL = apiBaseURL
	t.oauthHost = oauthHost
	return t
}

func (t *Transport) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, transportErr(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", originHeader)
	req.Header.Set("Referer", refererHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// postOAuth issues the unauthenticated oauth/access_token POST (no bearer
// token to attach yet).
func (t *Transport) postOAuth(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return newErr(KindGeneralFailure, err)
	}
	req, err := t.newRequest(ctx, http.MethodPost, t.oauthHost+path, payload)
	if err != nil {
		return err
	}
	res, err := t.httpClient.Do(req)
	if err != nil {
		return transportErr(err)
	}
	defer res.Body.Close()
	return decodeOrError(res, respBody)
}

// postJSON is the authenticated request/response cycle: bearer auth,
// 204->empty, 2xx->decode, 401->refresh+retry-once, 408/429/5xx->sleep
// 1s+retry-once, 404->NotFound, other 4xx->Upstream.
func (t *Transport) postJSON(ctx context.Context, accessToken, path string, reqBody, respBody any, onUnauthorized refresher) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return newErr(KindGeneralFailure, err)
	}
	url := t.apiBaseURL + path

	do := func(token string) (*http.Response, error) {
		req, err := t.newRequest(ctx, http.MethodPost, url, payload)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := t.httpClient.Do(req)
		if err != nil {
			return nil, transportErr(err)
		}
		return res, nil
	}

	res, err := do(accessToken)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		res.Body.Close()
		if onUnauthorized == nil {
			return upstreamErr(res.StatusCode, "unauthorized")
		}
		result, rerr := onUnauthorized(ctx)
		if rerr != nil {
			return rerr
		}
		res2, err := do(result.AccessToken)
		if err != nil {
			return err
		}
		defer res2.Body.Close()
		return decodeOrError(res2, respBody)

	case isRetryableStatus(res.StatusCode):
		res.Body.Close()
		logrus.WithField("status", res.StatusCode).Debug("transient upstream error, retrying once")
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return transportErr(ctx.Err())
		}
		res2, err := do(accessToken)
		if err != nil {
			return err
		}
		defer res2.Body.Close()
		return decodeOrError(res2, respBody)

	default:
		return decodeOrError(res, respBody)
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func decodeOrError(res *http.Response, respBody any) error {
	if res.StatusCode == http.StatusNoContent {
		return nil
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if respBody == nil {
			return nil
		}
		return json.NewDecoder(res.Body).Decode(respBody)
	}
	detail, _ := io.ReadAll(res.Body)
	logUpstreamError(res.StatusCode, detail)
	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return upstreamErr(res.StatusCode, string(detail))
}

// logUpstreamError pretty-prints a JSON error body at debug level so a
// failing response reads as formatted JSON in logs rather than one long
// escaped line; a non-JSON body is logged as-is.
func logUpstreamError(status int, body []byte) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) || len(body) == 0 {
		return
	}
	formatted := body
	if json.Valid(body) {
		formatted = pretty.Pretty(body)
	}
	logrus.WithField("status", status).Debug(strings.TrimSpace(string(formatted)))
}

// PutUpload PUTs a chunk's bytes to a presigned upload URL. The response
// body is captured for diagnostics regardless of status so callers can
// detect the "expired" marker in it mid-transfer.
func (t *Transport) PutUpload(ctx context.Context, url string, chunk []byte) (status int, body string, err error) {
	req, err := t.newRequest(ctx, http.MethodPut, url, nil)
	if err != nil {
		return 0, "", err
	}
	req.Body = io.NopCloser(bytes.NewReader(chunk))
	req.ContentLength = int64(len(chunk))
	res, err := t.httpClient.Do(req)
	if err != nil {
		return 0, "", transportErr(err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, string(b), nil
}

// Download performs a GET against a presigned download URL, optionally
// with a byte Range header. httpDowngrade rewrites https->http first if
// the global prefer_http_download option is set.
func (t *Transport) Download(ctx context.Context, rawURL string, rangeStart int64, rangeLen int) ([]byte, error) {
	rawURL = t.maybeDowngrade(rawURL)
	req, err := t.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if rangeLen > 0 || rangeStart > 0 {
		end := rangeStart + int64(rangeLen) - 1
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rangeStart, end))
	}
	res, err := t.httpClient.Do(req)
	if err != nil {
		return nil, transportErr(err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return io.ReadAll(res.Body)
	}
	detail, _ := io.ReadAll(res.Body)
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	return nil, upstreamErr(res.StatusCode, string(detail))
}

func (t *Transport) maybeDowngrade(rawURL string) string {
	if !t.preferHTTPDownload {
		return rawURL
	}
	const prefix = "https://"
	if len(rawURL) > len(prefix) && rawURL[:len(prefix)] == prefix {
		return "http://" + rawURL[len(prefix):]
	}
	return rawURL
}
