// Package grafana provides a client for the Grafana datasources API.
package grafana

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

	"go.uber.org/zap"

	"github.com/ekaya-inc/es-grafana-bridge/pkg/apperrors"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/logging"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/metrics"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/models"
)

// DefaultTimeout is the maximum time to wait for Grafana responses.
const DefaultTimeout = 30 * time.Second

// Metric endpoint labels.
const (
	endpointCheckAPI         = "check_api"
	endpointCreateDatasource = "create_datasource"
)

// StatusError is returned when Grafana answers with a non-OK status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("grafana returned status %d: %s", e.StatusCode, logging.SanitizeBody(e.Body))
}

// Client provides access to the Grafana HTTP API using a bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient creates a new Grafana client. A nil httpClient gets one with
// DefaultTimeout.
func NewClient(baseURL, token string, httpClient *http.Client, m *metrics.Metrics, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		metrics:    m,
		logger:     logger.Named("grafana"),
	}
}

// CheckAPI verifies the datasources API is reachable with the configured token.
// Returns an error wrapping apperrors.ErrGrafanaUnavailable otherwise.
func (c *Client) CheckAPI(ctx context.Context) error {
	resp, body, err := c.do(ctx, http.MethodGet, nil)
	if err != nil {
		c.metrics.ObserveGrafanaRequest(endpointCheckAPI, 0)
		return fmt.Errorf("%w: %s", apperrors.ErrGrafanaUnavailable, logging.SanitizeError(err))
	}
	c.metrics.ObserveGrafanaRequest(endpointCheckAPI, resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Grafana API check failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", logging.SanitizeBody(body)))
		return fmt.Errorf("%w: %w", apperrors.ErrGrafanaUnavailable, &StatusError{StatusCode: resp.StatusCode, Body: body})
	}

	c.logger.Debug("Grafana API reachable")
	return nil
}

// CreateDatasource POSTs a new datasource. It never looks up or updates an
// existing datasource of the same name; Grafana decides what a duplicate means.
// A non-OK answer is returned as *StatusError.
func (c *Client) CreateDatasource(ctx context.Context, ds *models.Datasource) error {
	payload, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("failed to encode datasource: %w", err)
	}

	resp, body, err := c.do(ctx, http.MethodPost, payload)
	if err != nil {
		c.metrics.ObserveGrafanaRequest(endpointCreateDatasource, 0)
		return err
	}
	c.metrics.ObserveGrafanaRequest(endpointCreateDatasource, resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return nil
}

// do sends a request to /api/datasources and reads the whole body.
func (c *Client) do(ctx context.Context, method string, payload []byte) (*http.Response, []byte, error) {
	endpoint, err := buildURL(c.baseURL, "api", "datasources")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build URL: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to call grafana: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp, body, nil
}

// buildURL constructs a URL by parsing the base and joining path segments.
func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	segments := append([]string{"/", u.Path}, pathSegments...)
	u.Path = path.Join(segments...)

	return u.String(), nil
}
