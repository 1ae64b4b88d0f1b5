// Package client is the HTTP client of the poll API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/cypherpoll/api"
	"github.com/vocdoni/cypherpoll/log"
)

const (
	// DefaultRetries this enables Request() to handle the situation where the server connection fails
	DefaultRetries = 3
	// DefaultTimeout is the default timeout for the HTTP client
	DefaultTimeout = 10 * time.Second
	// DefaultVoteTimeout applies to vote submissions, which wait for proof
	// verification.
	DefaultVoteTimeout = 600 * time.Second

	retryDelay = 500 * time.Millisecond
)

// HTTPclient is the poll API HTTP client.
type HTTPclient struct {
	c           *http.Client
	host        *url.URL
	retries     int
	timeout     time.Duration
	voteTimeout time.Duration
}

// New returns a client for the API at host after checking that it answers
// a ping.
func New(ctx context.Context, host string) (*HTTPclient, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		IdleConnTimeout:    DefaultTimeout,
		DisableCompression: false,
		WriteBufferSize:    1 * 1024 * 1024, // 1 MiB
		ReadBufferSize:     1 * 1024 * 1024, // 1 MiB
	}
	c := &HTTPclient{
		c:           &http.Client{Transport: tr},
		host:        hostURL,
		retries:     DefaultRetries,
		timeout:     DefaultTimeout,
		voteTimeout: DefaultVoteTimeout,
	}
	log.Debugw("http client created", "host", hostURL.String())
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// SetRetries configures the number of attempts per request.
func (c *HTTPclient) SetRetries(n int) {
	c.retries = max(n, 1)
}

// SetTimeout configures the timeout of regular requests.
func (c *HTTPclient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SetVoteTimeout configures the timeout of vote submissions.
func (c *HTTPclient) SetVoteTimeout(d time.Duration) {
	c.voteTimeout = d
}

// Host returns the API host.
func (c *HTTPclient) Host() string {
	return c.host.String()
}

// Ping checks that the API answers.
func (c *HTTPclient) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, http.MethodGet, nil, nil, api.PingEndpoint)
	return err
}

// Info returns the poll settings.
func (c *HTTPclient) Info(ctx context.Context) (*api.InfoResponse, error) {
	info := &api.InfoResponse{}
	return info, c.requestJSON(ctx, http.MethodGet, nil, info, api.InfoEndpoint)
}

// Challenge requests a registration challenge.
func (c *HTTPclient) Challenge(ctx context.Context) (*api.ChallengeResponse, error) {
	ch := &api.ChallengeResponse{}
	return ch, c.requestJSON(ctx, http.MethodGet, nil, ch, api.ChallengeEndpoint)
}

// Register submits a registration.
func (c *HTTPclient) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	reg := &api.RegisterResponse{}
	return reg, c.requestJSON(ctx, http.MethodPost, req, reg, api.RegisterEndpoint)
}

// Vote submits a vote proof using the vote timeout.
func (c *HTTPclient) Vote(ctx context.Context, proof *api.Proof) (*api.VoteResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.voteTimeout)
	defer cancel()
	receipt := &api.VoteResponse{}
	return receipt, c.requestJSON(ctx, http.MethodPost, &api.VoteRequest{Proof: proof}, receipt, api.VoteEndpoint)
}

// Roots returns the recognized roots.
func (c *HTTPclient) Roots(ctx context.Context) (*api.RootsResponse, error) {
	roots := &api.RootsResponse{}
	return roots, c.requestJSON(ctx, http.MethodGet, nil, roots, api.RootsEndpoint)
}

// Results returns the tally.
func (c *HTTPclient) Results(ctx context.Context) (*api.ResultsResponse, error) {
	res := &api.ResultsResponse{}
	return res, c.requestJSON(ctx, http.MethodGet, nil, res, api.ResultsEndpoint)
}

func (c *HTTPclient) requestJSON(ctx context.Context, method string, body, out any, urlPath ...string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	data, err := c.Request(ctx, method, body, nil, urlPath...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Request performs a raw request to the endpoint specified in urlPath and
// returns the response body. Non 200 responses are returned as api.Error,
// so callers can match them with errors.Is against the api error
// definitions.
//
// Supports query parameters via `params` slice. If the slice is not empty, it should contain pairs of strings;
// the first element of each pair is the key, and the second element is the value.
func (c *HTTPclient) Request(ctx context.Context, method string, jsonBody any, params []string, urlPath ...string) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	if jsonBody != nil {
		body, err = json.Marshal(jsonBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
	}

	u := *c.host
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	if len(params) > 0 {
		values := url.Values{}
		for i := 0; i < len(params)-1; i += 2 {
			values.Set(params[i], params[i+1])
		}
		u.RawQuery = values.Encode()
	}

	headers := http.Header{}
	headers.Set("X-Request-ID", uuid.NewString())
	if jsonBody != nil {
		headers.Set("Content-Type", "application/json")
		headers.Set("Accept", "application/json")
	}

	log.Debugw("http client request",
		"type", method,
		"url", u.String(),
		"requestId", headers.Get("X-Request-ID"),
		"body", func() string {
			if len(body) > 512 {
				return string(body[:512]) + "..."
			}
			return string(body)
		}(),
	)

	var resp *http.Response
	for i := 1; i <= c.retries; i++ {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, rerr := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
		if rerr != nil {
			return nil, fmt.Errorf("failed to create request: %w", rerr)
		}
		req.Header = headers.Clone()

		resp, err = c.c.Do(req)
		if err == nil {
			break
		}
		log.Warnw("http request failed", "error", err.Error(), "attempt", i, "retries", c.retries)
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(retryDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("http request ultimately failed after retries: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := api.Error{}
		if jerr := json.Unmarshal(data, &apiErr); jerr != nil || apiErr.Err == nil {
			return nil, fmt.Errorf("API error: %d (%s)", resp.StatusCode, bytes.TrimSpace(data))
		}
		apiErr.HTTPstatus = resp.StatusCode
		return nil, apiErr
	}
	return data, nil
}
