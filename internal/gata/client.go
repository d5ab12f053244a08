// Package gata is a client for the task-distribution service: the earn host
// handles the signature handshake and token grants, the agent host serves
// tasks and reward history.
package gata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	agenterrors "gata/internal/errors"
	"gata/internal/httpclient"
	"gata/internal/logging"
)

const (
	DefaultEarnURL        = "https://earn.aggregata.xyz"
	DefaultAgentURL       = "https://agent.gata.xyz"
	DefaultEndpointHeader = "pc-browser"
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
)

// StatusError is returned for any response with status >= 400.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// HTTPStatus exposes the status to the error classifier.
func (e *StatusError) HTTPStatus() int {
	return e.Status
}

// Endpoints are the base URLs of the two hosts.
type Endpoints struct {
	Earn  string
	Agent string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithHeaders overrides the client-identification and user-agent headers.
func WithHeaders(endpointHeader, userAgent string) Option {
	return func(c *Client) {
		if endpointHeader != "" {
			c.endpointHeader = endpointHeader
		}
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// Client talks to both hosts. It holds no credentials; callers pass the token
// each call needs so sessions can be replaced without rebuilding the client.
type Client struct {
	endpoints      Endpoints
	http           *http.Client
	endpointHeader string
	userAgent      string
	bodyLimit      int64
	logger         logging.Logger
}

// NewClient builds a Client. Empty endpoints fall back to the public hosts.
func NewClient(endpoints Endpoints, opts ...Option) *Client {
	if endpoints.Earn == "" {
		endpoints.Earn = DefaultEarnURL
	}
	if endpoints.Agent == "" {
		endpoints.Agent = DefaultAgentURL
	}
	c := &Client{
		endpoints:      Endpoints{Earn: strings.TrimRight(endpoints.Earn, "/"), Agent: strings.TrimRight(endpoints.Agent, "/")},
		http:           httpclient.New(30*time.Second, nil),
		endpointHeader: DefaultEndpointHeader,
		userAgent:      DefaultUserAgent,
		bodyLimit:      httpclient.DefaultBodyLimit,
		logger:         logging.NewComponentLogger("gata-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignatureNonce requests the nonce the identity must sign.
func (c *Client) SignatureNonce(ctx context.Context, address string) (string, error) {
	var out struct {
		AuthNonce string `json:"auth_nonce"`
	}
	req := map[string]string{"address": address}
	if err := c.do(ctx, http.MethodPost, c.endpoints.Earn+"/api/signature_nonce", "", req, &out); err != nil {
		return "", err
	}
	return out.AuthNonce, nil
}

// Authorize exchanges the signed nonce for a session token.
func (c *Client) Authorize(ctx context.Context, address, signature, inviteCode string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	req := map[string]string{
		"public_address": address,
		"signature_code": signature,
		"invite_code":    inviteCode,
	}
	if err := c.do(ctx, http.MethodPost, c.endpoints.Earn+"/api/authorize", "", req, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// Grant obtains a scoped token authorized by the session token.
func (c *Client) Grant(ctx context.Context, sessionToken string, scope GrantScope) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	req := map[string]int{"type": int(scope)}
	if err := c.do(ctx, http.MethodPost, c.endpoints.Earn+"/api/grant", sessionToken, req, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// FetchTask returns the next task. An empty body, null or {} yields a Task
// whose Empty reports true.
func (c *Client) FetchTask(ctx context.Context, taskToken string) (Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, c.endpoints.Agent+"/api/task", taskToken, nil, &task); err != nil {
		return Task{}, &agenterrors.FetchError{Resource: "task", Err: err}
	}
	return task, nil
}

// SubmitScore reports the score for a task. The service expects the score as
// a decimal string.
func (c *Client) SubmitScore(ctx context.Context, taskToken, taskID string, score float64) error {
	req := map[string]string{
		"id":    taskID,
		"score": strconv.FormatFloat(score, 'f', -1, 64),
	}
	if err := c.do(ctx, http.MethodPatch, c.endpoints.Agent+"/api/task", taskToken, req, nil); err != nil {
		return &agenterrors.SubmitError{TaskID: taskID, Err: err}
	}
	return nil
}

// FetchRewards returns one page of reward history.
func (c *Client) FetchRewards(ctx context.Context, taskToken string, page, perPage int) (RewardsPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	var out RewardsPage
	if err := c.do(ctx, http.MethodGet, c.endpoints.Agent+"/api/task_rewards?"+query.Encode(), taskToken, nil, &out); err != nil {
		return RewardsPage{}, &agenterrors.FetchError{Resource: "rewards", Err: err}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, rawURL, bearer string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("X-Gata-Endpoint", c.endpointHeader)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := httpclient.ReadAllWithLimit(resp.Body, c.bodyLimit)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Debug("%s %s rejected with status %d", method, req.URL.Path, resp.StatusCode)
		return &StatusError{
			Method: method,
			Path:   req.URL.Path,
			Status: resp.StatusCode,
			Body:   truncate(strings.TrimSpace(string(data)), 200),
		}
	}

	if out == nil {
		return nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, req.URL.Path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
