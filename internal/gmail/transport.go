package gmail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

//go:generate mockgen -source=transport.go -destination=transport_mock_test.go -package=gmail

// Transport performs authenticated HTTP calls against the remote API. An empty
// bearerToken sends the request without an Authorization header.
type Transport interface {
	Get(ctx context.Context, url, bearerToken string) (*Response, error)
	Post(ctx context.Context, url, bearerToken, contentType string, body []byte) (*Response, error)
}

// HTTPTransport implements Transport on top of net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps hc. A nil client gets a 60s timeout default.
func NewHTTPTransport(hc *http.Client) *HTTPTransport {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTransport{client: hc}
}

func (t *HTTPTransport) Get(ctx context.Context, url, bearerToken string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return t.do(req, bearerToken)
}

func (t *HTTPTransport) Post(ctx context.Context, url, bearerToken, contentType string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return t.do(req, bearerToken)
}

func (t *HTTPTransport) do(req *http.Request, bearerToken string) (*Response, error) {
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
