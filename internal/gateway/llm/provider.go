// Package llm adapts OpenAI-compatible chat completion endpoints
// (OpenAI, DeepSeek, Qwen) to the decision.Provider contract.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tradesim/internal/decision"
	"tradesim/internal/logger"
)

// Endpoint is one configured model endpoint. ProviderID matches the
// agent's provider reference; the agent's own model name overrides
// Model when set.
type Endpoint struct {
	ProviderID string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Provider routes each agent to its configured endpoint, renders the
// prompt from the portfolio and market snapshots, and parses the
// model's reply into a structured decision.
type Provider struct {
	endpoints map[string]Endpoint
	fallback  string
	client    *http.Client
}

func NewProvider(endpoints []Endpoint) *Provider {
	p := &Provider{
		endpoints: make(map[string]Endpoint, len(endpoints)),
		client:    &http.Client{},
	}
	for i, ep := range endpoints {
		p.endpoints[ep.ProviderID] = ep
		if i == 0 {
			p.fallback = ep.ProviderID
		}
	}
	return p
}

func (p *Provider) Decide(ctx context.Context, agentCtx decision.AgentContext, portfolio decision.PortfolioSnapshot, snapshot decision.MarketSnapshot) (decision.Decision, error) {
	ep, err := p.endpoint(agentCtx.ProviderID)
	if err != nil {
		return decision.Decision{}, err
	}
	model := agentCtx.Model
	if model == "" {
		model = ep.Model
	}

	userPrompt, err := renderPrompt(portfolio, snapshot)
	if err != nil {
		return decision.Decision{}, err
	}
	raw, err := p.chat(ctx, ep, model, systemPrompt, userPrompt)
	if err != nil {
		return decision.Decision{}, err
	}
	d, err := decision.ParseDecision(raw)
	if err != nil {
		return decision.Decision{}, fmt.Errorf("agent %s returned an unusable decision: %w", agentCtx.AgentID, err)
	}
	return d, nil
}

func (p *Provider) endpoint(providerID string) (Endpoint, error) {
	if ep, ok := p.endpoints[providerID]; ok {
		return ep, nil
	}
	if ep, ok := p.endpoints[p.fallback]; ok {
		return ep, nil
	}
	return Endpoint{}, fmt.Errorf("no LLM endpoint configured for provider %q", providerID)
}

// chat posts one completion request, retrying 429 and 5xx responses.
func (p *Provider) chat(ctx context.Context, ep Endpoint, model, system, user string) (string, error) {
	url := chatURL(ep.BaseURL)
	body, _ := json.Marshal(map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.5,
	})

	maxRetries := ep.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		content, retryable, err := p.post(reqCtx, url, ep.APIKey, body)
		cancel()
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		logger.Warnf("[llm] attempt %d against %s failed: %v", attempt+1, url, err)
	}
	return "", lastErr
}

func (p *Provider) post(ctx context.Context, url, apiKey string, body []byte) (content string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", true, fmt.Errorf("chat completion returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", false, fmt.Errorf("chat completion returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", false, err
	}
	if len(r.Choices) == 0 {
		return "", false, fmt.Errorf("chat completion returned no choices")
	}
	return r.Choices[0].Message.Content, false, nil
}

// chatURL normalizes a configured base URL so a value that already
// carries /chat/completions is not doubled.
func chatURL(base string) string {
	url := strings.TrimRight(strings.TrimSpace(base), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}
