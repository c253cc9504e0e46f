package notehub

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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"fwupdate/internal/config"
	"fwupdate/internal/constants"
	"fwupdate/internal/logger"
	"fwupdate/pkg/circuitbreaker"
	apperrors "fwupdate/pkg/errors"
	"fwupdate/pkg/metrics"
	"fwupdate/pkg/tracing"
)

const (
	msgAuthFailed   = "Notehub authentication failed. Check API token(s)"
	msgPathNotFound = "Notehub path not found"
)

// StatusError is a non-2xx response from Notehub.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return msgAuthFailed
	case http.StatusNotFound:
		return msgPathNotFound
	default:
		return fmt.Sprintf("Notehub Request Error: %d - %s", e.StatusCode, e.Body)
	}
}

type Options struct {
	APIURL       string
	OAuthURL     string
	ProjectUID   string
	ClientID     string
	ClientSecret string
	AccessToken  string
	Timeout      time.Duration
	// Transport is the base transport, mainly for tests. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Breaker   *circuitbreaker.Breaker
}

func OptionsFromConfig(cfg config.NotehubConfig) Options {
	return Options{
		APIURL:       cfg.APIURL,
		OAuthURL:     cfg.OAuthURL,
		ProjectUID:   cfg.ProjectUID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AccessToken:  cfg.AccessToken,
		Timeout:      cfg.Timeout(),
	}
}

// Client sends authenticated project-scoped requests to the Notehub API.
// A user access token takes precedence over OAuth client credentials.
type Client struct {
	baseURL    string
	projectUID string
	http       *http.Client
	breaker    *circuitbreaker.Breaker
	logger     logger.Logger
}

func NewClient(opts Options, log logger.Logger) (*Client, error) {
	if opts.AccessToken == "" && opts.ClientID == "" {
		return nil, apperrors.ErrConfiguration.WithMessage("Must provide either a user access token or a client Id for authentication")
	}
	if opts.AccessToken == "" && opts.ClientSecret == "" {
		return nil, apperrors.ErrConfiguration.WithMessage("Must provide a client secret along with the client ID to enable authentication")
	}
	if opts.ProjectUID == "" {
		return nil, apperrors.ErrConfiguration.WithMessage("Notehub project UID is required")
	}
	if opts.APIURL == "" {
		opts.APIURL = constants.DefaultNotehubAPIURL
	}
	if opts.OAuthURL == "" {
		opts.OAuthURL = constants.DefaultNotehubOAuthURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultHTTPTimeout
	}
	if log == nil {
		log = logger.NopLogger()
	}

	base := tracing.Transport(opts.Transport, "notehub")

	var httpClient *http.Client
	if opts.AccessToken != "" {
		httpClient = &http.Client{
			Transport: &sessionTokenTransport{token: opts.AccessToken, base: base},
		}
	} else {
		cc := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.OAuthURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
			Transport: base,
			Timeout:   opts.Timeout,
		})
		httpClient = cc.Client(tokenCtx)
	}
	httpClient.Timeout = opts.Timeout

	return &Client{
		baseURL:    strings.TrimRight(opts.APIURL, "/"),
		projectUID: opts.ProjectUID,
		http:       httpClient,
		breaker:    opts.Breaker,
		logger:     log,
	}, nil
}

// NewBreaker builds the circuit breaker guarding Notehub calls. Client
// errors (4xx) do not count as failures.
func NewBreaker(cfg config.CircuitBreakerConfig) *circuitbreaker.Breaker {
	cbCfg := circuitbreaker.DefaultConfig("notehub")
	if cfg.MaxRequests > 0 {
		cbCfg.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbCfg.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbCfg.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 {
		cbCfg.ReadyToTrip = circuitbreaker.TripOnRatio(cfg.MinRequests, cfg.FailureRatio)
	}
	cbCfg.IsSuccessful = func(err error) bool {
		var se *StatusError
		return errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError
	}
	return circuitbreaker.New(cbCfg)
}

type sessionTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *sessionTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("X-Session-Token", t.token)
	return t.base.RoundTrip(r)
}

// v1Request calls /v1/projects/{project}/{path}. out is left untouched when
// the response body is empty.
func (c *Client) v1Request(ctx context.Context, operation, method, path string, params url.Values, payload, out any) error {
	endpoint := fmt.Sprintf("%s/v1/projects/%s/%s", c.baseURL, url.PathEscape(c.projectUID), path)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	start := time.Now()
	var err error
	if c.breaker != nil {
		err = c.breaker.Do(ctx, func(ctx context.Context) error {
			return c.do(ctx, method, endpoint, payload, out)
		})
	} else {
		err = c.do(ctx, method, endpoint, payload, out)
	}
	metrics.ObserveNotehubDuration(operation, time.Since(start))

	if err != nil {
		metrics.IncNotehubRequest(operation, "error")
		c.logger.WarnwCtx(ctx, "Notehub request failed", "operation", operation, "method", method, "path", path, "error", err)
		return toCollaboratorError(operation, err)
	}

	metrics.IncNotehubRequest(operation, "success")
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if len(bytes.TrimSpace(data)) == 0 || out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

func toCollaboratorError(operation string, err error) error {
	appErr := apperrors.ErrCollaborator.WithDetail("operation", operation)

	var se *StatusError
	if errors.As(err, &se) {
		return appErr.WithMessage("%s", se.Error()).WithDetail("status", se.StatusCode).WithCause(err)
	}
	if circuitbreaker.IsOpenError(err) {
		return appErr.WithMessage("Notehub unavailable: circuit breaker open").WithCause(err)
	}
	return appErr.WithMessage("Notehub request failed: %v", err).WithCause(err)
}
