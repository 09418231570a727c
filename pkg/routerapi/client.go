// Package routerapi drives speed profiles on the access router through its
// HTTP control-plane API.
package routerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

const (
	defaultTimeout              = 5 * time.Second
	responseBodyReadLimit int64 = 1024
)

var errBaseURLRequired = errors.New("router base url is required")

// Client calls the router control plane.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit caps profile pushes per second against the router. Zero
// disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("parse router base url: %w", err)
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type applyProfileRequest struct {
	Profile string `json:"profile"`
}

// ApplyProfile switches the customer's active session to profile. Any non-2xx
// answer is a dependency error so the caller's retry policy applies.
func (c *Client) ApplyProfile(ctx context.Context, customerID uuid.UUID, profile string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "router client not configured")
	}
	if strings.TrimSpace(profile) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "profile is required")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "router rate limit wait")
		}
	}

	payload, err := json.Marshal(applyProfileRequest{Profile: profile})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal profile request")
	}
	endpoint := fmt.Sprintf("%s/subscribers/%s/profile", c.baseURL, url.PathEscape(customerID.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build profile request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute profile request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"router rejected profile")
	}
	return nil
}

// DryRun logs profile changes instead of calling a router. Used for local
// development and when no router is configured.
type DryRun struct {
	logg *logger.Logger
}

func NewDryRun(logg *logger.Logger) *DryRun {
	return &DryRun{logg: logg}
}

func (d *DryRun) ApplyProfile(ctx context.Context, customerID uuid.UUID, profile string) error {
	if d.logg != nil {
		d.logg.Info(d.logg.WithFields(ctx, map[string]any{
			"customer_id": customerID.String(),
			"profile":     profile,
		}), "router dry run: profile not pushed")
	}
	return nil
}
