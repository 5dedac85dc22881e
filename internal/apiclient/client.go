// Package apiclient talks to the Trainee REST API.
//
// Every request carries the session's bearer token. A 401 is recovered by
// exchanging the refresh token once, shared by every request that failed at
// the same time, and retrying the original request with the new token.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/trainee/internal/metrics"
	"github.com/tyemirov/trainee/internal/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	// LoginRoute is where the client navigates when the session ends.
	LoginRoute = "/login"

	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 4 << 20
	refreshPath      = "/auth/refresh/"
)

// Session is the part of the session manager the client depends on.
type Session interface {
	Credentials() session.Credentials
	Rotate(ctx context.Context, previousRefresh string, accessToken string, refreshToken string) error
	Expire(ctx context.Context) bool
}

// Navigator moves the user to another screen.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

// Navigate calls function(route).
func (function NavigatorFunc) Navigate(route string) {
	function(route)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root including its path prefix, e.g. http://localhost:8000/api.
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Session    Session
	Navigator  Navigator
	Logger     *zap.Logger
	Metrics    metrics.Recorder
}

// Client issues API calls on behalf of one session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    Session
	navigator  Navigator
	logger     *zap.Logger
	metrics    metrics.Recorder

	flightMutex sync.Mutex
	flight      *refreshFlight
	// failed is the last flight that ended the session. Requests sent with
	// its generation whose 401 arrives afterwards report its error.
	failed *refreshFlight
}

// refreshFlight is one in-progress exchange of a refresh token. Every request
// that 401s while it runs waits on done and shares its outcome.
type refreshFlight struct {
	generation  uint64
	done        chan struct{}
	credentials session.Credentials
	err         error
}

// New constructs a Client.
func New(configuration Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(configuration.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("apiclient.new: %w", ErrMissingBaseURL)
	}
	if configuration.Session == nil {
		return nil, fmt.Errorf("apiclient.new: %w", ErrMissingSession)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(configuration.Timeout)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := configuration.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	navigator := configuration.Navigator
	if navigator == nil {
		navigator = NavigatorFunc(func(string) {})
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		session:    configuration.Session,
		navigator:  navigator,
		logger:     logger,
		metrics:    recorder,
	}, nil
}

// NewHTTPClient builds the traced HTTP client used when none is supplied.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

type rawResponse struct {
	status int
	body   []byte
}

// do sends one API call through the 401 protocol and decodes a successful
// body into target when target is non-nil.
func (client *Client) do(ctx context.Context, operation string, method string, path string, payload any, target any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("apiclient.%s: encode request: %w", operation, err)
		}
		body = encoded
	}

	sent := client.session.Credentials()
	response, err := client.send(ctx, method, path, body, sent.Access)
	if err != nil {
		return fmt.Errorf("apiclient.%s: %w", operation, err)
	}

	if response.status == http.StatusUnauthorized {
		retryCredentials, recoverErr := client.recoverUnauthorized(ctx, sent)
		if recoverErr != nil {
			return fmt.Errorf("apiclient.%s: %w", operation, recoverErr)
		}
		client.metrics.Increment(metrics.EventRetry)
		response, err = client.send(ctx, method, path, body, retryCredentials.Access)
		if err != nil {
			return fmt.Errorf("apiclient.%s: %w", operation, err)
		}
		if response.status == http.StatusUnauthorized {
			client.logger.Warn("retried request rejected",
				zap.String("code", "apiclient.retry.unauthorized"),
				zap.String("method", method),
				zap.String("path", path))
			return fmt.Errorf("apiclient.%s: %w", operation, errorFromResponse(method, path, response.status, response.body))
		}
	}

	if response.status < 200 || response.status > 299 {
		return fmt.Errorf("apiclient.%s: %w", operation, errorFromResponse(method, path, response.status, response.body))
	}
	if target == nil || len(bytes.TrimSpace(response.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.body, target); err != nil {
		return fmt.Errorf("apiclient.%s: %w: %w", operation, ErrDecodeResponse, err)
	}
	return nil
}

// recoverUnauthorized decides how a request sent with sent credentials
// continues after a 401 and returns the credentials to retry with.
func (client *Client) recoverUnauthorized(ctx context.Context, sent session.Credentials) (session.Credentials, error) {
	client.flightMutex.Lock()
	current := client.session.Credentials()
	if current.Generation != sent.Generation {
		failed := client.failed
		client.flightMutex.Unlock()
		if current.Access != "" {
			return current, nil
		}
		if failed != nil && failed.generation == sent.Generation {
			return session.Credentials{}, failed.err
		}
		return session.Credentials{}, ErrUnauthorized
	}

	flight := client.flight
	if flight == nil || flight.generation != current.Generation {
		if current.Refresh == "" {
			client.flightMutex.Unlock()
			if client.session.Expire(ctx) {
				client.redirectToLogin("apiclient.unauthorized.no_refresh_token")
			}
			return session.Credentials{}, ErrUnauthorized
		}
		flight = &refreshFlight{generation: current.Generation, done: make(chan struct{})}
		client.flight = flight
		go client.runRefresh(context.WithoutCancel(ctx), flight, current)
	}
	client.flightMutex.Unlock()

	select {
	case <-flight.done:
		return flight.credentials, flight.err
	case <-ctx.Done():
		return session.Credentials{}, ctx.Err()
	}
}

func (client *Client) runRefresh(ctx context.Context, flight *refreshFlight, from session.Credentials) {
	defer func() {
		client.flightMutex.Lock()
		if client.flight == flight {
			client.flight = nil
		}
		client.flightMutex.Unlock()
		close(flight.done)
	}()

	pair, err := client.RefreshAccess(ctx, from.Refresh)
	if err == nil {
		err = client.session.Rotate(ctx, from.Refresh, pair.Access, pair.Refresh)
		if err == nil {
			flight.credentials = client.session.Credentials()
			client.metrics.Increment(metrics.EventRefreshSuccess)
			client.logger.Debug("access token refreshed", zap.String("code", "apiclient.refresh.success"))
			return
		}
		if errors.Is(err, session.ErrSessionChanged) {
			flight.err = &RefreshError{Err: err}
			return
		}
	}

	client.metrics.Increment(metrics.EventRefreshFailure)
	client.logger.Warn("token refresh failed",
		zap.String("code", "apiclient.refresh.failure"),
		zap.Error(err))
	flight.err = &RefreshError{Err: err}
	client.flightMutex.Lock()
	client.failed = flight
	client.flightMutex.Unlock()
	if client.session.Expire(ctx) {
		client.redirectToLogin("apiclient.refresh.failure")
	}
}

func (client *Client) redirectToLogin(code string) {
	client.metrics.Increment(metrics.EventRedirect)
	client.logger.Info("redirecting to login", zap.String("code", code))
	client.navigator.Navigate(LoginRoute)
}

func (client *Client) send(ctx context.Context, method string, path string, body []byte, accessToken string) (rawResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, reader)
	if err != nil {
		return rawResponse{}, &TransportError{Method: method, Path: path, Err: err}
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return rawResponse{}, &TransportError{Method: method, Path: path, Err: err}
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return rawResponse{}, &TransportError{Method: method, Path: path, Err: err}
	}
	client.logger.Debug("api response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", response.StatusCode))
	return rawResponse{status: response.StatusCode, body: payload}, nil
}

// decodeList accepts a bare JSON array or a paginated {"results": [...]} object.
func decodeList[T any](payload json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return []T{}, nil
	}
	if trimmed[0] == '[' {
		items := []T{}
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecodeResponse, err)
		}
		return items, nil
	}
	var page struct {
		Results *[]T `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}
	if page.Results == nil {
		return nil, fmt.Errorf("%w: list response has no results", ErrDecodeResponse)
	}
	return *page.Results, nil
}

func getList[T any](ctx context.Context, client *Client, operation string, path string) ([]T, error) {
	var payload json.RawMessage
	if err := client.do(ctx, operation, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	items, err := decodeList[T](payload)
	if err != nil {
		return nil, fmt.Errorf("apiclient.%s: %w", operation, err)
	}
	return items, nil
}
