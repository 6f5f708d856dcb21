// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm talks to an OpenAI-compatible chat-completion service to
// classify papers against a topic and to translate abstracts.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/arxiv-digest/internal/httputil"
	"github.com/pdiddy/arxiv-digest/pkg/types"
)

// ErrMalformedResponse reports a reply that could not be interpreted.
var ErrMalformedResponse = errors.New("malformed model response")

const defaultLanguage = "Chinese"

// Client calls the chat completions endpoint under BaseURL.
type Client struct {
	cfg  types.LLMConfig
	http *httputil.Client
}

// NewClient returns a Client for cfg. The configuration is passed through
// to the service unchanged.
func NewClient(cfg types.LLMConfig, logger zerolog.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: httputil.NewClient(cfg.Timeout, cfg.MaxRetries, 0, logger),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Match asks the model whether paper fits topic.
func (c *Client) Match(ctx context.Context, paper types.Paper, topic string) (bool, error) {
	prompt, err := renderMatchPrompt(paper, topic)
	if err != nil {
		return false, fmt.Errorf("rendering prompt: %w", err)
	}
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return false, err
	}
	return parseMatch(text)
}

// Translate asks the model to translate text into the configured target
// language. An empty reply is returned as an empty string, not an error.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	lang := c.cfg.TargetLanguage
	if lang == "" {
		lang = defaultLanguage
	}
	prompt, err := renderTranslatePrompt(text, lang)
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	out, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("calling chat completions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrMalformedResponse, err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	return cr.Choices[0].Message.Content, nil
}

// parseMatch reads the verdict from a model reply. It accepts a bare or
// fenced JSON object with a boolean "match" field, or a one-word yes/no.
func parseMatch(text string) (bool, error) {
	s := strings.TrimSpace(text)

	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		var v struct {
			Match *bool `json:"match"`
		}
		if err := json.Unmarshal([]byte(s[start:end+1]), &v); err == nil && v.Match != nil {
			return *v.Match, nil
		}
	}

	switch strings.ToLower(strings.Trim(s, " .\n`\"")) {
	case "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrMalformedResponse, truncate(s, 80))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
