// Package kibana provides a client for the Kibana saved objects API.
package kibana

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/es-grafana-bridge/pkg/apperrors"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/logging"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/metrics"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/models"
)

// DefaultTimeout is the maximum time to wait for Kibana responses.
const DefaultTimeout = 30 * time.Second

// PageSize is the number of saved objects Kibana returns per page.
// Kibana's own per_page echo is not consulted.
const PageSize = 20

// IndexPatternType is the saved object type of index patterns.
const IndexPatternType = "index-pattern"

// Metric endpoint labels.
const (
	endpointLegacyProbe = "legacy_probe"
	endpointFindProbe   = "find_probe"
	endpointListPage    = "list_page"
)

// Dialect identifies which saved objects API shape a Kibana instance speaks.
type Dialect int

const (
	// DialectLegacy is the Kibana 5.x API: GET /api/saved_objects/<type>.
	DialectLegacy Dialect = iota
	// DialectFind is the Kibana 6.x+ API: GET /api/saved_objects/_find.
	DialectFind
)

func (d Dialect) String() string {
	switch d {
	case DialectLegacy:
		return "legacy"
	case DialectFind:
		return "find"
	default:
		return "unknown"
	}
}

// SavedObject is one entry of a saved objects listing.
type SavedObject struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Attributes SavedObjectAttrs `json:"attributes"`
}

// SavedObjectAttrs holds the index pattern attributes the bridge reads.
type SavedObjectAttrs struct {
	Title         string `json:"title,omitempty"`
	TimeFieldName string `json:"timeFieldName,omitempty"`
}

// SavedObjectsPage is a single page of a saved objects listing.
type SavedObjectsPage struct {
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
	Total        int           `json:"total"`
	SavedObjects []SavedObject `json:"saved_objects"`
}

// IndexPattern converts the saved object to an index pattern record. The
// object id stands in for the name when the title is missing or empty, so a
// datasource is never named "ES - ".
func (o SavedObject) IndexPattern() models.IndexPattern {
	name := o.Attributes.Title
	if name == "" {
		name = o.ID
	}
	return models.IndexPattern{
		ID:        o.ID,
		Name:      name,
		TimeField: o.Attributes.TimeFieldName,
	}
}

// TotalPages returns how many pages of PageSize hold total objects.
func TotalPages(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + PageSize - 1) / PageSize
}

// Client provides access to the Kibana saved objects API using basic auth.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient creates a new Kibana client. A nil httpClient gets one with
// DefaultTimeout.
func NewClient(baseURL, username, password string, httpClient *http.Client, m *metrics.Metrics, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		username:   username,
		password:   password,
		metrics:    m,
		logger:     logger.Named("kibana"),
	}
}

// DetectDialect probes both saved objects endpoints. The legacy dialect wins
// whenever its endpoint answers 200, regardless of the find endpoint.
// Returns an error wrapping apperrors.ErrKibanaUnavailable if neither answers 200.
func (c *Client) DetectDialect(ctx context.Context) (Dialect, error) {
	legacyOK := c.probe(ctx, endpointLegacyProbe, nil, "api", "saved_objects")
	findOK := c.probe(ctx, endpointFindProbe, url.Values{"per_page": {"1"}}, "api", "saved_objects", "_find")

	if !legacyOK && !findOK {
		return DialectLegacy, fmt.Errorf("%w: neither %s nor %s answered",
			apperrors.ErrKibanaUnavailable, "/api/saved_objects", "/api/saved_objects/_find")
	}

	dialect := DialectFind
	if legacyOK {
		dialect = DialectLegacy
	}

	c.logger.Info("Detected Kibana API dialect",
		zap.String("dialect", dialect.String()),
		zap.Bool("legacy_ok", legacyOK),
		zap.Bool("find_ok", findOK))

	return dialect, nil
}

// probe reports whether a GET on the endpoint answered 200. Transport errors
// count as a failed probe.
func (c *Client) probe(ctx context.Context, endpoint string, query url.Values, pathSegments ...string) bool {
	rawURL, err := buildURL(c.baseURL, query.Encode(), pathSegments...)
	if err != nil {
		c.logger.Error("Failed to build probe URL", zap.String("endpoint", endpoint), zap.Error(err))
		return false
	}

	resp, body, err := c.get(ctx, rawURL)
	if err != nil {
		c.metrics.ObserveKibanaRequest(endpoint, 0)
		c.logger.Debug("Kibana probe failed",
			zap.String("url", logging.SanitizeURL(rawURL)),
			zap.String("error", logging.SanitizeError(err)))
		return false
	}
	c.metrics.ObserveKibanaRequest(endpoint, resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Kibana probe returned non-OK status",
			zap.String("url", logging.SanitizeURL(rawURL)),
			zap.Int("status", resp.StatusCode),
			zap.String("body", logging.SanitizeBody(body)))
		return false
	}
	return true
}

// ListIndexPatterns returns every index pattern across all pages, in the
// order Kibana returns them. Page 1 determines the page count and its
// objects are kept, so exactly TotalPages(total) pages are requested
// (one when total is zero). Paging stops early at the first empty page, and
// a negative total is a listing error.
func (c *Client) ListIndexPatterns(ctx context.Context, dialect Dialect) ([]models.IndexPattern, error) {
	first, err := c.FetchPage(ctx, dialect, 1)
	if err != nil {
		return nil, err
	}

	if first.Total < 0 {
		return nil, fmt.Errorf("%w: kibana reported a negative total (%d)", apperrors.ErrKibanaListing, first.Total)
	}

	totalPages := TotalPages(first.Total)
	c.logger.Info("Found index patterns",
		zap.Int("total", first.Total),
		zap.Int("pages", totalPages))

	// total comes from the server, so it never sizes an allocation
	patterns := make([]models.IndexPattern, 0, len(first.SavedObjects))
	patterns = appendPatterns(patterns, first.SavedObjects)

	for page := 2; page <= totalPages; page++ {
		p, err := c.FetchPage(ctx, dialect, page)
		if err != nil {
			return nil, err
		}
		if len(p.SavedObjects) == 0 {
			c.logger.Warn("Kibana returned an empty page before the reported total",
				zap.Int("page", page),
				zap.Int("pages", totalPages),
				zap.Int("total", first.Total),
				zap.Int("listed", len(patterns)))
			break
		}
		patterns = appendPatterns(patterns, p.SavedObjects)
	}

	return patterns, nil
}

func appendPatterns(dst []models.IndexPattern, objects []SavedObject) []models.IndexPattern {
	for _, o := range objects {
		dst = append(dst, o.IndexPattern())
	}
	return dst
}

// FetchPage fetches one page of index patterns using the dialect's request shape.
func (c *Client) FetchPage(ctx context.Context, dialect Dialect, page int) (*SavedObjectsPage, error) {
	rawURL, err := c.pageURL(dialect, page)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build URL: %v", apperrors.ErrKibanaListing, err)
	}

	c.logger.Debug("Fetching index pattern page",
		zap.String("dialect", dialect.String()),
		zap.Int("page", page))

	resp, body, err := c.get(ctx, rawURL)
	if err != nil {
		c.metrics.ObserveKibanaRequest(endpointListPage, 0)
		return nil, fmt.Errorf("%w: page %d: %s", apperrors.ErrKibanaListing, page, logging.SanitizeError(err))
	}
	c.metrics.ObserveKibanaRequest(endpointListPage, resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Kibana returned error",
			zap.Int("page", page),
			zap.Int("status", resp.StatusCode),
			zap.String("body", logging.SanitizeBody(body)))
		return nil, fmt.Errorf("%w: page %d: kibana returned status %d", apperrors.ErrKibanaListing, page, resp.StatusCode)
	}

	var result SavedObjectsPage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: page %d: failed to parse response: %v", apperrors.ErrKibanaListing, page, err)
	}

	return &result, nil
}

// pageURL builds the listing URL for a page. The find dialect needs the
// fields parameter repeated once per field; Kibana rejects a comma-joined list.
func (c *Client) pageURL(dialect Dialect, page int) (string, error) {
	pageParam := "page=" + strconv.Itoa(page)

	if dialect == DialectFind {
		query := "fields=title&fields=timeFieldName&type=" + url.QueryEscape(IndexPatternType) + "&" + pageParam
		return buildURL(c.baseURL, query, "api", "saved_objects", "_find")
	}
	return buildURL(c.baseURL, pageParam, "api", "saved_objects", IndexPatternType)
}

// get issues an authenticated GET and reads the whole body.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to call kibana: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp, body, nil
}

// buildURL constructs a URL by parsing the base, joining path segments and
// setting the already-encoded query.
func buildURL(baseURL, rawQuery string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	segments := append([]string{"/", u.Path}, pathSegments...)
	u.Path = path.Join(segments...)
	u.RawQuery = rawQuery

	return u.String(), nil
}
