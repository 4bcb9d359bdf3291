// Package knowledge is the HTTP client for the knowledge (vector search)
// service that backs honey jar context retrieval.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	pkgError "github.com/sting-chat/sting-cache/pkg/error"

	domain "github.com/sting-chat/sting-cache/honeyjar/domain/knowledge"
)

const defaultTimeout = 10 * time.Second

// Client implements knowledge.Searcher against the knowledge service's REST
// API. Access-denied (403) and unknown-jar (404) responses come back as
// typed pkg/error values, not transport failures.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a knowledge service client. token is the service-to-
// service bearer credential. A zero timeout falls back to the default.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Documents []domain.Document `json:"documents"`
}

// Search queries a honey jar for documents relevant to params.Query.
func (c *Client) Search(ctx context.Context, jarID string, params domain.SearchParams) ([]domain.Document, error) {
	query := url.Values{}
	query.Set("query", params.Query)
	query.Set("limit", strconv.Itoa(params.Limit))
	query.Set("is_public", strconv.FormatBool(params.IsPublic))
	if params.OwnerID != "" {
		query.Set("bot_owner_id", params.OwnerID)
	}

	endpoint := fmt.Sprintf("%s/honeyjars/%s/search?%s", c.baseURL, url.PathEscape(jarID), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch resp.StatusCode {
	case http.StatusOK:
		// fallthrough to decode
	case http.StatusForbidden:
		return nil, pkgError.AccessDeniedError(fmt.Sprintf("access denied to honey jar %s", jarID))
	case http.StatusNotFound:
		return nil, pkgError.NotFoundError(fmt.Sprintf("honey jar %s not found", jarID))
	default:
		return nil, fmt.Errorf("knowledge service returned status %d: %s", resp.StatusCode, string(data))
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return parsed.Documents, nil
}
