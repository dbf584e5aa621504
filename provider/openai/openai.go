package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/deepscout/config"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// Client calls the OpenAI chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	models     map[string]config.LLMModel // keyed by model name
	httpClient *http.Client
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the OpenAI API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// New creates a client from a provider config entry.
func New(cfg config.LLMProvider) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	models := make(map[string]config.LLMModel, len(cfg.Models))
	for _, m := range cfg.Models {
		models[m.Name] = m
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		models:     models,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete sends a single-turn prompt and returns the completion text plus token usage.
func (c *Client) Complete(ctx context.Context, prompt string, model string, temperature float64, maxTokens int) (string, int64, int64, error) {
	apiName := model
	if m, ok := c.models[model]; ok {
		if m.APIName != "" {
			apiName = m.APIName
		}
		if temperature == 0 {
			temperature = m.Temperature
		}
		if maxTokens == 0 {
			maxTokens = m.MaxTokens
		}
	}

	requestBody := request{
		Model:       apiName,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", 0, 0, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openaiResp.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices in response")
	}

	return openaiResp.Choices[0].Message.Content,
		openaiResp.Usage.PromptTokens,
		openaiResp.Usage.CompletionTokens,
		nil
}

// CalculateCost converts token usage into USD using the configured per-1k rates.
// Unknown models cost zero; the budget monitor treats that as free rather than failing.
func (c *Client) CalculateCost(promptTokens, completionTokens int64, model string) float64 {
	m, ok := c.models[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*m.CostPer1K + float64(completionTokens)/1000*m.CostPer1KOutput
}
