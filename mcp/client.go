package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Provider AI provider type
type Provider string

const (
	ProviderDeepSeek Provider = "deepseek"
	ProviderQwen     Provider = "qwen"
	ProviderGroq     Provider = "groq"
	ProviderCustom   Provider = "custom"
)

// Client OpenAI-compatible chat completion client
type Client struct {
	Provider   Provider
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	UseFullURL bool // send to BaseURL as-is instead of appending /chat/completions

	transport  *http.Transport
	httpClient *http.Client
}

func New() *Client {
	return &Client{
		Provider: ProviderGroq,
		BaseURL:  "https://api.groq.com/openai/v1",
		Model:    "llama-3.1-70b-versatile",
		Timeout:  120 * time.Second,
	}
}

// SetDeepSeekAPIKey configures the DeepSeek endpoint
func (c *Client) SetDeepSeekAPIKey(apiKey string) {
	c.Provider = ProviderDeepSeek
	c.APIKey = apiKey
	c.BaseURL = "https://api.deepseek.com/v1"
	c.Model = "deepseek-chat"
}

// SetQwenAPIKey configures the Qwen compatible-mode endpoint
func (c *Client) SetQwenAPIKey(apiKey string) {
	c.Provider = ProviderQwen
	c.APIKey = apiKey
	c.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	c.Model = "qwen-plus"
}

// SetGroqAPIKey configures Groq, optionally with an explicit model name
func (c *Client) SetGroqAPIKey(apiKey string, model string) {
	c.Provider = ProviderGroq
	c.APIKey = apiKey
	c.BaseURL = "https://api.groq.com/openai/v1"
	if model == "" {
		c.Model = "llama-3.1-70b-versatile"
	} else {
		c.Model = model
	}
	// 70B-class models routinely need more than two minutes
	if strings.Contains(strings.ToLower(c.Model), "70b") {
		c.Timeout = 180 * time.Second
	} else {
		c.Timeout = 120 * time.Second
	}
}

// SetCustomAPI configures any OpenAI-format API. A trailing '#' on the URL
// means "use the URL verbatim, do not append /chat/completions".
func (c *Client) SetCustomAPI(apiURL, apiKey, modelName string) {
	c.Provider = ProviderCustom
	c.APIKey = apiKey
	if strings.HasSuffix(apiURL, "#") {
		c.BaseURL = strings.TrimSuffix(apiURL, "#")
		c.UseFullURL = true
	} else {
		c.BaseURL = apiURL
		c.UseFullURL = false
	}
	c.Model = modelName
	c.Timeout = 120 * time.Second
}

// CallWithMessages calls the chat completion API with system + user prompts,
// retrying transient network failures with escalating waits.
func (c *Client) CallWithMessages(systemPrompt, userPrompt string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("AI API key not set, call SetGroqAPIKey(), SetDeepSeekAPIKey() or SetQwenAPIKey() first")
	}

	maxRetries := 5
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			fmt.Printf("⚠️  AI API call failed, retrying (%d/%d)...\n", attempt, maxRetries)
		}

		result, err := c.callOnce(systemPrompt, userPrompt)
		if err == nil {
			if attempt > 1 {
				fmt.Printf("✓ AI API retry succeeded\n")
			}
			return result, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}

		if attempt < maxRetries {
			waitTime := []time.Duration{
				5 * time.Second,
				10 * time.Second,
				20 * time.Second,
				30 * time.Second,
			}[attempt-1]
			fmt.Printf("⏳ Waiting %v before retry...\n", waitTime)
			time.Sleep(waitTime)
		}
	}

	return "", fmt.Errorf("still failing after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) callOnce(systemPrompt, userPrompt string) (string, error) {
	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{
			"role":    "system",
			"content": systemPrompt,
		})
	}
	messages = append(messages, map[string]string{
		"role":    "user",
		"content": userPrompt,
	})

	// Low temperature keeps the JSON block stable across providers
	requestBody := map[string]interface{}{
		"model":       c.Model,
		"messages":    messages,
		"temperature": 0.5,
		"max_tokens":  4000,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to serialize request: %w", err)
	}

	url := c.BaseURL
	if !c.UseFullURL {
		url = fmt.Sprintf("%s/chat/completions", c.BaseURL)
	}
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	if c.transport == nil {
		c.transport = &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			DisableKeepAlives:   false,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		c.httpClient = &http.Client{
			Timeout:   c.Timeout,
			Transport: c.transport,
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("API returned empty response")
	}

	return result.Choices[0].Message.Content, nil
}

// isRetryableError reports whether the error looks like a transient network failure
func isRetryableError(err error) bool {
	errStr := err.Error()
	retryableErrors := []string{
		"EOF",
		"timeout",
		"connection reset",
		"connection refused",
		"forcibly closed",
		"temporary failure",
		"no such host",
		"broken pipe",
		"network is unreachable",
	}
	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}
