package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/weather-cache-proxy/internal/observability"
)

// WeatherClient fetches the current weather payload for a city.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, city string) (json.RawMessage, error)
}

var (
	// ErrMissingAPIKey is returned when no API key is configured at call time.
	ErrMissingAPIKey = errors.New("weather API key not configured")
	// ErrInvalidPayload is returned when a 200 response body is not a JSON object.
	ErrInvalidPayload = errors.New("upstream payload is not a JSON object")
)

// UpstreamError reports a failed upstream lookup. StatusCode is the upstream HTTP
// status, or 502 when no usable response was received (transport failure, bad body).
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream lookup failed (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream lookup failed (HTTP %d)", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// OpenWeatherClient issues one GET per lookup. There is no retry or backoff;
// timeout 0 means the call is bounded only by ctx.
type OpenWeatherClient struct {
	apiKey  string
	apiURL  *url.URL
	timeout time.Duration
	client  *http.Client
}

// NewOpenWeatherClient returns a client for apiURL. An empty apiKey is accepted
// here and reported as ErrMissingAPIKey on each lookup.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", apiURL)
	}
	return &OpenWeatherClient{
		apiKey:  apiKey,
		apiURL:  u,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// GetCurrentWeather returns the upstream JSON object for city, compacted but otherwise unmodified.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, city string) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	start := time.Now()

	req, err := c.buildRequest(ctx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Err: fmt.Errorf("http request failed: %w", err)}
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Err: fmt.Errorf("read response body: %w", err)}
	}
	payload, err := compactObject(body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Err: err}
	}
	return payload, nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	u := *c.apiURL
	params := u.Query()
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// compactObject validates that body is a single JSON object and strips insignificant whitespace.
func compactObject(body []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if buf.Len() == 0 || buf.Bytes()[0] != '{' {
		return nil, ErrInvalidPayload
	}
	return json.RawMessage(buf.Bytes()), nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
