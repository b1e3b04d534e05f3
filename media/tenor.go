// Package media finds decorative GIFs for birthday announcements.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrUnavailable is returned when no media can be provided.
var ErrUnavailable = errors.New("media unavailable")

const (
	defaultBaseURL = "https://tenor.googleapis.com/v2/search"
	defaultLimit   = 20
)

// TenorClient searches the Tenor v2 API.
type TenorClient struct {
	apiKey    string
	clientKey string
	baseURL   string
	limit     int
	http      *http.Client
	pick      func(n int) int
}

// NewTenorClient creates a Tenor client. The client key identifies the
// integration to Tenor and may be empty.
func NewTenorClient(apiKey, clientKey string) *TenorClient {
	return &TenorClient{
		apiKey:    apiKey,
		clientKey: clientKey,
		baseURL:   defaultBaseURL,
		limit:     defaultLimit,
		http:      &http.Client{Timeout: 5 * time.Second},
		pick:      rand.Intn,
	}
}

type searchResponse struct {
	Results []struct {
		ID           string `json:"id"`
		ItemURL      string `json:"itemurl"`
		MediaFormats map[string]struct {
			URL string `json:"url"`
		} `json:"media_formats"`
	} `json:"results"`
}

// CelebrationMediaURL returns a random GIF URL matching keyword.
func (c *TenorClient) CelebrationMediaURL(ctx context.Context, keyword string) (string, error) {
	if c.apiKey == "" {
		return "", ErrUnavailable
	}

	q := url.Values{}
	q.Set("q", keyword)
	q.Set("key", c.apiKey)
	q.Set("limit", strconv.Itoa(c.limit))
	q.Set("media_filter", "gif")
	q.Set("contentfilter", "medium")
	if c.clientKey != "" {
		q.Set("client_key", c.clientKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build tenor request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tenor search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tenor search: unexpected status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode tenor response: %w", err)
	}

	var urls []string
	for _, r := range body.Results {
		if gif, ok := r.MediaFormats["gif"]; ok && gif.URL != "" {
			urls = append(urls, gif.URL)
		} else if r.ItemURL != "" {
			urls = append(urls, r.ItemURL)
		}
	}
	if len(urls) == 0 {
		return "", ErrUnavailable
	}
	return urls[c.pick(len(urls))], nil
}
