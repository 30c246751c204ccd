// Package manifest fetches konnector manifests from the stack registry.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.ManifestSource = (*Client)(nil)

// maxManifestSize bounds the response body read from the registry.
const maxManifestSize = 1 << 20

// Config configures a Client.
type Config struct {
	// BaseURL of the stack, e.g. https://alice.example.net
	BaseURL string

	// Token is sent as a bearer token when set
	Token string

	HTTPClient *http.Client
	Logger     *slog.Logger

	// CacheTTL is how long a fetched manifest is reused. Default 10m.
	CacheTTL time.Duration

	// RequestsPerSecond limits calls to the registry. Default 5.
	RequestsPerSecond float64
}

// Client fetches manifests over HTTP, caching them by source.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cache   *cache.Cache
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a manifest client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("manifest registry URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid registry URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpClient,
		cache:   cache.New(ttl, 2*ttl),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps*2)+1),
		logger:  logger,
	}, nil
}

// Fetch returns the manifest published for source. Failures are returned
// as *domain.ManifestFetchError.
func (c *Client) Fetch(ctx context.Context, source string) (*domain.Manifest, error) {
	if source == "" {
		return nil, &domain.ManifestFetchError{Source: source, Err: domain.MissingParam("fetchManifest", "source")}
	}
	if cached, ok := c.cache.Get(source); ok {
		m := *cached.(*domain.Manifest)
		return &m, nil
	}

	m, err := c.fetch(ctx, source)
	if err != nil {
		c.logger.Debug("manifest fetch failed", "source", source, "error", err)
		return nil, &domain.ManifestFetchError{Source: source, Err: err}
	}
	c.cache.Set(source, m, cache.DefaultExpiration)
	out := *m
	return &out, nil
}

func (c *Client) fetch(ctx context.Context, source string) (*domain.Manifest, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/konnectors/manifests?Source=" + url.QueryEscape(source)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("registry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var m domain.Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestSize)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Slug == "" {
		return nil, errors.New("manifest has no slug")
	}
	if m.Source == "" {
		m.Source = source
	}
	return &m, nil
}

// Invalidate drops the cached manifest for source.
func (c *Client) Invalidate(source string) {
	c.cache.Delete(source)
}
