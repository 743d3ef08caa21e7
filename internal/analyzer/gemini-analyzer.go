package analyzer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

// GeminiAnalyzer calls the Gemini API through the genai SDK.
type GeminiAnalyzer struct {
	apiKey string
	model  string
	logger *utils.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiAnalyzer returns a gateway backed by the Gemini API. The SDK client
// is created on first use so a missing key surfaces on the first call.
func NewGeminiAnalyzer(apiKey, model string, logger *utils.Logger) *GeminiAnalyzer {
	return &GeminiAnalyzer{
		apiKey: strings.TrimSpace(apiKey),
		model:  strings.TrimSpace(model),
		logger: logger,
	}
}

func (g *GeminiAnalyzer) ModelName() string { return g.model }

func (g *GeminiAnalyzer) Configured() bool { return g.apiKey != "" }

func (g *GeminiAnalyzer) Complete(ctx context.Context, in Request) (string, error) {
	if !g.Configured() {
		return "", fmt.Errorf("gemini: %w", ErrNotConfigured)
	}
	cl, err := g.sdkClient(ctx)
	if err != nil {
		return "", err
	}

	m := cl.GenerativeModel(g.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(in.Temperature),
		ResponseMIMEType: "application/json",
	}
	if in.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(in.MaxOutputTokens)
	}

	parts := []genai.Part{
		genai.Text(in.Instruction),
		&genai.Blob{MIMEType: DetectMIMEType(in.Image, in.MIMEType), Data: in.Image},
	}

	start := time.Now()
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	txt := firstText(resp)
	if strings.TrimSpace(txt) == "" {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("Gemini completion received",
		"model", g.model,
		"chars", len(txt),
		"elapsed_ms", time.Since(start).Milliseconds())
	return txt, nil
}

// Close releases the SDK client, if one was created.
func (g *GeminiAnalyzer) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

func (g *GeminiAnalyzer) sdkClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	cl, err := genai.NewClient(context.WithoutCancel(ctx), option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	g.client = cl
	return cl, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
