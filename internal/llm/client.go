// Package llm wraps the Anthropic messages API for the tagger and the
// summary generator.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/config"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	maxRetries       = 3
)

// Client calls the messages API with linear-backoff retries.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New builds a Client from configuration. The API key comes from the
// configured environment variable and must be set.
func New(cfg *config.Config, log *zap.Logger) (*Client, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable not set", cfg.LLM.APIKeyEnv)
	}
	baseURL := cfg.LLM.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.LLM.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		model:   cfg.LLM.Model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a single user prompt and returns the model's text reply.
// Failed calls are retried up to three times with linear backoff.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		text, err := c.call(ctx, prompt, maxTokens)
		if err == nil {
			return text, nil
		}
		lastErr = err
		c.log.Warn("llm call failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
	}
	return "", fmt.Errorf("llm call after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) call(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(apiRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []apiMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return apiResp.Content[0].Text, nil
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls a JSON document out of a model reply and unmarshals it
// into v. It tries the reply verbatim, then the first fenced code block,
// then the widest brace- or bracket-delimited span.
func ExtractJSON(reply string, v any) error {
	reply = strings.TrimSpace(reply)

	if json.Unmarshal([]byte(reply), v) == nil {
		return nil
	}

	if m := fencedJSONPattern.FindStringSubmatch(reply); m != nil {
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), v) == nil {
			return nil
		}
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(reply, pair[0])
		end := strings.LastIndex(reply, pair[1])
		if start >= 0 && end > start {
			if json.Unmarshal([]byte(reply[start:end+1]), v) == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("no JSON found in reply: %.120s", reply)
}
