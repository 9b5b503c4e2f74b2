package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"playforge/internal/cache"
	"playforge/internal/models"
	"playforge/internal/observability"
)

const (
	defaultGIFLimit = 20
	maxGIFLimit     = 50
	maxGIFQueryLen  = 100
)

// GIF is one result shown in the picker.
type GIF struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// GIFService proxies a Tenor-compatible API so the key never reaches clients.
type GIFService struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewGIFService(baseURL, apiKey string) *GIFService {
	return &GIFService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *GIFService) Enabled() bool {
	return s != nil && s.baseURL != "" && s.apiKey != ""
}

// Search returns GIFs matching query, cached for cache.GIFTTL.
func (s *GIFService) Search(ctx context.Context, query string, limit int) ([]GIF, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewValidationError("q is required")
	}
	if len(query) > maxGIFQueryLen {
		return nil, models.NewValidationError(fmt.Sprintf("q too long (max %d characters)", maxGIFQueryLen))
	}
	limit = clampGIFLimit(limit)
	return s.cached(ctx, cache.GIFSearchKey(query, limit), "search", url.Values{
		"q":     {query},
		"limit": {strconv.Itoa(limit)},
	})
}

// Trending returns the provider's featured GIFs.
func (s *GIFService) Trending(ctx context.Context, limit int) ([]GIF, error) {
	limit = clampGIFLimit(limit)
	return s.cached(ctx, cache.GIFSearchKey("__trending__", limit), "featured", url.Values{
		"limit": {strconv.Itoa(limit)},
	})
}

func (s *GIFService) cached(ctx context.Context, key, endpoint string, params url.Values) ([]GIF, error) {
	if !s.Enabled() {
		return nil, models.NewFeatureDisabledError("gifs")
	}
	var out []GIF
	err := cache.Aside(ctx, key, &out, cache.GIFTTL, func() error {
		gifs, err := s.fetch(ctx, endpoint, params)
		if err != nil {
			return err
		}
		out = gifs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type tenorMedia struct {
	URL  string `json:"url"`
	Dims []int  `json:"dims"`
}

type tenorResponse struct {
	Results []struct {
		ID                 string                `json:"id"`
		ContentDescription string                `json:"content_description"`
		MediaFormats       map[string]tenorMedia `json:"media_formats"`
	} `json:"results"`
}

func (s *GIFService) fetch(ctx context.Context, endpoint string, params url.Values) (gifs []GIF, err error) {
	start := time.Now()
	defer func() { observability.ObserveUpstream("gif", start, err) }()

	params.Set("key", s.apiKey)
	params.Set("media_filter", "gif,tinygif")
	params.Set("contentfilter", "medium")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, models.NewUpstreamError("GIF", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, models.NewUpstreamError("GIF", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, models.NewUpstreamError("GIF", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded tenorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&decoded); err != nil {
		return nil, models.NewUpstreamError("GIF", err)
	}

	gifs = make([]GIF, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		full, ok := r.MediaFormats["gif"]
		if !ok || !strings.HasPrefix(full.URL, "https://") {
			continue
		}
		g := GIF{ID: r.ID, Title: r.ContentDescription, URL: full.URL, PreviewURL: full.URL}
		if tiny, ok := r.MediaFormats["tinygif"]; ok && tiny.URL != "" {
			g.PreviewURL = tiny.URL
		}
		if len(full.Dims) == 2 {
			g.Width, g.Height = full.Dims[0], full.Dims[1]
		}
		gifs = append(gifs, g)
	}
	return gifs, nil
}

func clampGIFLimit(limit int) int {
	if limit <= 0 {
		return defaultGIFLimit
	}
	if limit > maxGIFLimit {
		return maxGIFLimit
	}
	return limit
}
