package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coinsentry/internal/logger"
)

const newsBaseURL = "https://min-api.cryptocompare.com/data/v2/news/?lang=EN"

// assetToNames maps asset symbols to spelled-out names for headline matching.
var assetToNames = map[string][]string{
	"BTC":  {"Bitcoin"},
	"ETH":  {"Ethereum", "Ether"},
	"XRP":  {"Ripple"},
	"SOL":  {"Solana"},
	"ADA":  {"Cardano"},
	"DOGE": {"Dogecoin"},
	"AVAX": {"Avalanche"},
	"DOT":  {"Polkadot"},
	"LINK": {"Chainlink"},
	"TRX":  {"Tron"},
}

type Item struct {
	Title     string
	Published time.Time
}

type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
}

func NewClient(log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
	}
}

type newsResponse struct {
	Data []struct {
		Title       string `json:"title"`
		PublishedOn int64  `json:"published_on"`
	} `json:"Data"`
}

// FetchRecent returns headlines from the last 24 hours.
func (c *Client) FetchRecent(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, newsBaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create news request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch news: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read news response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed returned status %d", resp.StatusCode)
	}

	var parsed newsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse news response: %w", err)
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	var items []Item
	for _, row := range parsed.Data {
		published := time.Unix(row.PublishedOn, 0)
		if published.Before(cutoff) {
			continue
		}
		items = append(items, Item{Title: row.Title, Published: published})
	}

	return items, nil
}

// HeadlinesFor returns the titles mentioning the market's asset, matching by
// symbol or spelled-out name.
func HeadlinesFor(items []Item, market string) []string {
	asset := market
	if i := strings.Index(market, "-"); i >= 0 {
		asset = market[i+1:]
	}

	searchTerms := []string{strings.ToUpper(asset)}
	if names, ok := assetToNames[strings.ToUpper(asset)]; ok {
		searchTerms = append(searchTerms, names...)
	}

	var titles []string
	for _, item := range items {
		titleUpper := strings.ToUpper(item.Title)
		for _, term := range searchTerms {
			if strings.Contains(titleUpper, strings.ToUpper(term)) {
				titles = append(titles, item.Title)
				break
			}
		}
	}
	return titles
}
