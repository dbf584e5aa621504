package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/mohammad-safakhou/deepscout/tools/web_search/models"
)

type Search struct {
	ApiKey string
	Client *http.Client
}

func New(apiKey string, timeout time.Duration) *Search {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Search{ApiKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

func (s *Search) Discover(ctx context.Context, q string, k int, recency int) (models.Page, error) {
	// https://api.search.brave.com/app/documentation/web-search
	url := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", neturl.QueryEscape(q), k)
	if recency > 0 {
		url += fmt.Sprintf("&freshness=pd%d", recency)
	}
	req, _ := http.NewRequestWithContext(ctx, "GET", url, nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.ApiKey)
	resp, err := s.Client.Do(req)
	if err != nil {
		return models.Page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Page{}, fmt.Errorf("brave returned status: %d", resp.StatusCode)
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Page{}, err
	}
	var page models.Page
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		page.Results = append(page.Results, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return page, nil
}
