package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
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
	// https://serper.dev/ docs
	payload := map[string]any{"q": q, "num": k}
	if recency > 0 {
		payload["tbs"] = fmt.Sprintf("qdr:d%d", recency)
	}

	body, _ := json.Marshal(payload)
	req, _ := http.NewRequestWithContext(ctx, "POST", "https://google.serper.dev/search", strings.NewReader(string(body)))
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return models.Page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Page{}, fmt.Errorf("serper returned status: %d", resp.StatusCode)
	}
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Page{}, err
	}

	var page models.Page
	if box, ok := raw["answerBox"].(map[string]any); ok {
		if ans := str(box["answer"]); ans != "" {
			page.Content = ans
		} else if snip := str(box["snippet"]); snip != "" {
			page.Content = snip
		}
	}
	if items, ok := raw["organic"].([]any); ok {
		for i, it := range items {
			if i >= k {
				break
			}
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			page.Results = append(page.Results, models.Result{
				Title: str(m["title"]), URL: str(m["link"]), Snippet: str(m["snippet"]),
			})
		}
	}
	return page, nil
}

// str reads an optional string field out of decoded JSON.
func str(v any) string {
	s, _ := v.(string)
	return s
}
