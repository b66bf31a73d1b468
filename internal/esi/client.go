package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const defaultBaseURL = "https://esi.evetech.net/latest"

const userAgent = "moonwatch/1.0 (github.com)"

// StructureStore is a persistent L2 cache for structure names.
type StructureStore interface {
	GetStructureName(structureID int64) (string, bool)
	SetStructureName(structureID int64, name string)
}

// Client is a rate-limited ESI HTTP client.
type Client struct {
	baseURL        string
	http           *http.Client
	sem            chan struct{}
	structureCache sync.Map       // int64 -> string (L1 in-memory)
	structureStore StructureStore // L2 persistent cache (SQLite)
}

// NewClient creates an ESI client with rate limiting and the given structure
// name cache store. Uses 20 concurrent connections; the moon-mining
// endpoints are low volume compared to market scans.
func NewClient(store StructureStore) *Client {
	return &Client{
		baseURL:        defaultBaseURL,
		http:           &http.Client{Timeout: 30 * time.Second},
		sem:            make(chan struct{}, 20),
		structureStore: store,
	}
}

// HealthCheck pings ESI to verify connectivity.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/status/?datasource=tranquility", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == 200
}

// GetJSON fetches a public URL and decodes JSON into dst.
func (c *Client) GetJSON(ctx context.Context, url string, dst interface{}) error {
	return c.doJSON(ctx, url, "", dst)
}

// AuthGetJSON performs an authenticated GET to an ESI endpoint.
func (c *Client) AuthGetJSON(ctx context.Context, url, accessToken string, dst interface{}) error {
	return c.doJSON(ctx, url, accessToken, dst)
}

func (c *Client) doJSON(ctx context.Context, url, accessToken string, dst interface{}) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ESI %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}
