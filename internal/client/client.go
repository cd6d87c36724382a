// Package client is the Go counterpart of the `tooie` shell wrapper: it
// reads the token and endpoint files and issues one request per call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout matches the wrapper's curl --max-time.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 4 << 20
)

// ErrUsage is returned for an unknown or malformed subcommand.
var ErrUsage = errors.New("usage: tooie {status|apps|resources|media|art|notifications|brightness [value]|volume [value] [stream]|exec <command>|permission|lock|token rotate}")

// Credentials supplies the current token and endpoint. They are read on
// every request so a rotated token takes effect immediately.
type Credentials interface {
	ReadToken() (string, error)
	ReadEndpoint() (string, error)
}

// Response is a raw gateway reply.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= http.StatusOK && r.Status < http.StatusMultipleChoices
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client talks to the local gateway.
type Client struct {
	creds      Credentials
	httpClient *http.Client
}

// New creates a client. timeout <= 0 uses DefaultTimeout.
func New(creds Credentials, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Do sends one request. payload, when non-nil, is JSON encoded. Non-2xx
// replies are returned as a Response, not an error.
func (c *Client) Do(ctx context.Context, method, path string, payload any) (*Response, error) {
	token, err := c.creds.ReadToken()
	if err != nil {
		return nil, err
	}
	endpoint, err := c.creds.ReadEndpoint()
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach gateway at %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

func (c *Client) Status(ctx context.Context) (*Response, error) {
	return c.Do(ctx, http.MethodGet, "/v1/status", nil)
}

func (c *Client) Apps(ctx context.Context) (*Response, error) {
	return c.Do(ctx, http.MethodGet, "/v1/apps", nil)
}

func (c *Client) Resources(ctx context.Context) (*Response, error) {
	return c.Do(ctx, http.MethodGet, "/v1/system/resources", nil)
}

func (c *Client) NowPlaying(ctx context.Context) (*Response, error) {
	return c.Do(ctx, http.MethodGet, "/v1/media/now-playing", nil)
}

func (c *Client) Art(ctx context.Context) (*Response, error) {
	return c.Do(ctx, http.MethodGet, "/v1/media/art", nil)
}

func (c *Client) Notifications(ctx context.Context) (*Response, error) {
	return c.Do(ctx, http.MethodGet, "/v1/notifications", nil)
}

// Brightness reads the brightness, setting it first when value is non-nil.
func (c *Client) Brightness(ctx context.Context, value *int) (*Response, error) {
	if value == nil {
		return c.Do(ctx, http.MethodPost, "/v1/system/brightness", nil)
	}
	return c.Do(ctx, http.MethodPost, "/v1/system/brightness", map[string]int{"brightness": *value})
}

// Volume reads a stream volume, setting it first when volume is non-nil.
// A nil stream uses the server default.
func (c *Client) Volume(ctx context.Context, volume, stream *int) (*Response, error) {
	payload := map[string]int{}
	if volume != nil {
		payload["volume"] = *volume
	}
	if stream != nil {
		payload["stream"] = *stream
	}
	if len(payload) == 0 {
		return c.Do(ctx, http.MethodPost, "/v1/system/volume", nil)
	}
	return c.Do(ctx, http.MethodPost, "/v1/system/volume", payload)
}

func (c *Client) Exec(ctx context.Context, command string) (*Response, error) {
	return c.Do(ctx, http.MethodPost, "/v1/exec", map[string]string{"command": command})
}

func (c *Client) RequestPermission(ctx context.Context) (*Response, error) {
	return c.Do(ctx, http.MethodPost, "/v1/privileged/request-permission", nil)
}

func (c *Client) Lock(ctx context.Context) (*Response, error) {
	return c.Do(ctx, http.MethodPost, "/v1/screen/lock", nil)
}

func (c *Client) RotateToken(ctx context.Context) (*Response, error) {
	return c.Do(ctx, http.MethodPost, "/v1/auth/rotate", nil)
}

// Run dispatches a wrapper subcommand. No arguments means status.
func (c *Client) Run(ctx context.Context, args []string) (*Response, error) {
	cmd := "status"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "status":
		return c.Status(ctx)
	case "apps":
		return c.Apps(ctx)
	case "resources":
		return c.Resources(ctx)
	case "media":
		return c.NowPlaying(ctx)
	case "art":
		return c.Art(ctx)
	case "notifications":
		return c.Notifications(ctx)
	case "brightness":
		value, err := optionalIntArg(args, 0)
		if err != nil {
			return nil, err
		}
		return c.Brightness(ctx, value)
	case "volume":
		volume, err := optionalIntArg(args, 0)
		if err != nil {
			return nil, err
		}
		stream, err := optionalIntArg(args, 1)
		if err != nil {
			return nil, err
		}
		return c.Volume(ctx, volume, stream)
	case "exec":
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: exec needs a command", ErrUsage)
		}
		return c.Exec(ctx, strings.Join(args, " "))
	case "permission":
		return c.RequestPermission(ctx)
	case "lock":
		return c.Lock(ctx)
	case "token":
		if len(args) == 0 || args[0] != "rotate" {
			return nil, fmt.Errorf("%w: expected token rotate", ErrUsage)
		}
		return c.RotateToken(ctx)
	default:
		return nil, ErrUsage
	}
}

func optionalIntArg(args []string, i int) (*int, error) {
	if len(args) <= i {
		return nil, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", ErrUsage, args[i])
	}
	return &n, nil
}
