package clients

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/metrics"
)

// CatalogMetadata is the subset of an external catalog record that the
// post-upload pipeline folds into a video row.
type CatalogMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PosterURL   string `json:"poster_url"`
	ReleaseYear int    `json:"release_year"`
	MediaType   string `json:"media_type"`
	Category    string `json:"category"`
}

type MetadataFetcher interface {
	Fetch(requestID, externalID string) (CatalogMetadata, error)
}

type MetadataClient struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *retryablehttp.Client
}

func NewMetadataClient(baseURL *url.URL, apiKey string) *MetadataClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 1 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.HTTPClient = &http.Client{
		Timeout: 5 * time.Second, // Give up on requests that take more than this long
	}
	client.Logger = log.NewRetryableHTTPLogger()
	client.CheckRetry = metrics.HttpRetryHook

	return &MetadataClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: client,
	}
}

// Fetch looks up a catalog record by its external id. Missing records come
// back as errors.ErrNotFound so callers can treat them as non-fatal.
func (c *MetadataClient) Fetch(requestID, externalID string) (CatalogMetadata, error) {
	lookupURL := c.baseURL.JoinPath("titles", externalID)
	r, err := retryablehttp.NewRequest(http.MethodGet, lookupURL.String(), nil)
	if err != nil {
		return CatalogMetadata{}, fmt.Errorf("failed to build metadata request: %w", err)
	}
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := metrics.MonitorRequest(metrics.Metrics.MetadataClient, c.httpClient, r)
	if err != nil {
		return CatalogMetadata{}, fmt.Errorf("failed to fetch metadata from %s: %w", log.RedactURL(lookupURL.String()), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return CatalogMetadata{}, fmt.Errorf("no catalog record for %q: %w", externalID, apiErrs.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return CatalogMetadata{}, fmt.Errorf("metadata lookup for %q returned %d", externalID, resp.StatusCode)
	}

	var metadata CatalogMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return CatalogMetadata{}, fmt.Errorf("failed to parse metadata response for %q: %w", externalID, err)
	}
	log.Log(requestID, "fetched catalog metadata", "external_id", externalID, "title", metadata.Title)
	return metadata, nil
}
