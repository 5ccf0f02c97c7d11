package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/incubed/in3-go/light/transport"
)

const (
	defaultMaxBodyBytes = 10 << 20
	userAgent           = "in3-go"
)

// Option configures the HTTP transport.
type Option func(*httpTransport)

// MaxBodyBytes limits the size of a response body. Larger bodies are cut,
// which makes them fail to decode.
func MaxBodyBytes(n int64) Option {
	return func(t *httpTransport) { t.maxBody = n }
}

// Client overrides the underlying http.Client.
func Client(c *http.Client) Option {
	return func(t *httpTransport) { t.client = c }
}

// httpTransport posts JSON-RPC payloads using net/http.
type httpTransport struct {
	client  *http.Client
	maxBody int64
}

var _ transport.Transport = (*httpTransport)(nil)

// New creates a HTTP transport. Timeouts are taken from the context passed to
// Send; the default client has no overall timeout of its own.
func New(opts ...Option) transport.Transport {
	t := &httpTransport{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBody: defaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *httpTransport) Send(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", transport.ErrNoResponse, ctxErr)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", transport.ErrNoResponse, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", transport.ErrNoResponse, err)
		}
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > 256 {
			body = body[:256]
		}
		return nil, transport.ErrBadStatus{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
