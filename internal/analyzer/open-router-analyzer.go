package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

type openRouterAnalyzer struct {
	apiKey  string
	model   string
	baseURL string
	logger  *utils.Logger
	client  *http.Client
}

type OpenRouterRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int32     `json:"max_tokens,omitempty"`
}

type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type OpenRouterResponse struct {
	Choices []Choice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

type Choice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func NewOpenRouterAnalyzer(apiKey, model, baseURL string, logger *utils.Logger) Analyzer {
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	return &openRouterAnalyzer{
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (a *openRouterAnalyzer) ModelName() string { return a.model }

func (a *openRouterAnalyzer) Configured() bool { return a.apiKey != "" }

func (a *openRouterAnalyzer) Complete(ctx context.Context, in Request) (string, error) {
	if !a.Configured() {
		return "", fmt.Errorf("openrouter: %w", ErrNotConfigured)
	}

	mimeType := DetectMIMEType(in.Image, in.MIMEType)
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(in.Image)

	reqBody := OpenRouterRequest{
		Model:       a.model,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxOutputTokens,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: in.Instruction},
					{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://github.com/BerylCAtieno/receipt-extractor-api")

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		a.logger.Error("OpenRouter API error", "status", resp.StatusCode, "body", truncate(string(body), 512))
		return "", &APIError{Provider: "OpenRouter", StatusCode: resp.StatusCode, Message: truncate(string(body), 256)}
	}

	var openRouterResp OpenRouterResponse
	if err := json.Unmarshal(body, &openRouterResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if openRouterResp.Error != nil {
		return "", fmt.Errorf("OpenRouter API error: %s", openRouterResp.Error.Message)
	}

	if len(openRouterResp.Choices) == 0 || strings.TrimSpace(openRouterResp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	a.logger.Debug("OpenRouter completion received",
		"model", a.model,
		"bytes", len(body),
		"elapsed_ms", time.Since(start).Milliseconds())

	return openRouterResp.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
