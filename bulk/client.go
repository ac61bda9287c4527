package bulk

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var httpc = &http.Client{Timeout: 15 * time.Second}

// DefaultAPIVersion is the Bulk API version requests are issued against
// unless SetAPIVersion overrides it.
const DefaultAPIVersion = "48.0"

const sessionHeader = "X-SFDC-Session"

// Client issues Bulk API requests against one org instance. It is safe for
// concurrent use; a re-login swaps the session token under the mutex.
type Client struct {
	hc         *http.Client
	apiVersion string

	mu    sync.Mutex
	base  string
	token string

	// login re-authenticates after the server rejects the session token.
	// Only set when the client owns credentials (NewClientLogin).
	login func(ctx context.Context) (Session, error)

	// sleep paces the result poller; tests swap it out.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient wraps an already-established session. The client cannot recover
// from session expiry on its own; use NewClientLogin for that.
func NewClient(instanceURL, accessToken string) *Client {
	return &Client{
		hc:         httpc,
		apiVersion: DefaultAPIVersion,
		base:       strings.TrimRight(instanceURL, "/"),
		token:      accessToken,
		sleep:      sleepCtx,
	}
}

// NewClientLogin authenticates with the JWT bearer flow and keeps the
// credentials around so an expired session is renewed once per request.
func NewClientLogin(ctx context.Context, cfg LoginConfig) (*Client, error) {
	c := NewClient("", "")
	c.login = func(ctx context.Context) (Session, error) { return Login(ctx, cfg) }
	if err := c.renewSession(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// SetAPIVersion overrides DefaultAPIVersion, e.g. "52.0".
func (c *Client) SetAPIVersion(v string) { c.apiVersion = v }

// endpoint builds {instance}/services/async/{version}/{parts...}.
func (c *Client) endpoint(parts ...string) string {
	c.mu.Lock()
	base := c.base
	c.mu.Unlock()
	return base + "/services/async/" + c.apiVersion + "/" + strings.Join(parts, "/")
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) renewSession(ctx context.Context) error {
	s, err := c.login(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.token = s.AccessToken
	if s.InstanceURL != "" {
		c.base = strings.TrimRight(s.InstanceURL, "/")
	}
	c.mu.Unlock()
	return nil
}

// do sends one request and returns the 2xx body. Non-2xx answers come back
// as APIError; network errors come back as-is. A 401 triggers a single
// re-login and resend when the client owns credentials.
func (c *Client) do(ctx context.Context, method, url, contentType string, body []byte) ([]byte, error) {
	data, status, err := c.send(ctx, method, url, contentType, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized && c.login != nil {
		if err := c.renewSession(ctx); err != nil {
			return nil, err
		}
		if data, status, err = c.send(ctx, method, url, contentType, body); err != nil {
			return nil, err
		}
	}
	if status < 200 || status > 299 {
		return nil, decodeAPIError(status, data)
	}
	return data, nil
}

// send performs the request with a basic retry for 429/5xx. The body is a
// byte slice so each attempt re-reads it from the start.
func (c *Client) send(ctx context.Context, method, url, contentType string, body []byte) ([]byte, int, error) {
	var lastData []byte
	var lastStatus int
	for attempt := 0; attempt < 3; attempt++ {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return nil, 0, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set(sessionHeader, c.session())

		res, err := c.hc.Do(req)
		if err != nil {
			return nil, 0, err
		}
		data, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, 0, err
		}
		lastData, lastStatus = data, res.StatusCode

		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			time.Sleep(time.Duration(250*(attempt+1)) * time.Millisecond)
			continue
		}
		break
	}
	return lastData, lastStatus, nil
}

// sleepCtx waits for d or for ctx, whichever ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
