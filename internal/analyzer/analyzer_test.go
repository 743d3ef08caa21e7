package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

func TestOpenRouterComplete(t *testing.T) {
	var got OpenRouterRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"is_receipt\": true}"}}]}`)
	}))
	defer srv.Close()

	a := NewOpenRouterAnalyzer("sk-test", "openai/gpt-4o-mini", srv.URL+"/", utils.NopLogger())
	text, err := a.Complete(context.Background(), Request{
		Instruction:     "extract",
		Image:           []byte("img"),
		MIMEType:        "image/png",
		Temperature:     0.1,
		MaxOutputTokens: 512,
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if text != `{"is_receipt": true}` {
		t.Errorf("text = %q", text)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("authorization = %q", auth)
	}
	if got.Model != "openai/gpt-4o-mini" || got.MaxTokens != 512 || len(got.Messages) != 1 {
		t.Fatalf("request = %+v", got)
	}
	parts := got.Messages[0].Content
	if len(parts) != 2 || parts[0].Text != "extract" || parts[1].ImageURL == nil ||
		!strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("content parts = %+v", parts)
	}
}

func TestOpenRouterErrors(t *testing.T) {
	cases := []struct {
		name         string
		status       int
		body         string
		unavailable  bool
		config       bool
		emptyRespErr bool
	}{
		{"overloaded", http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`, true, false, false},
		{"rate limited", http.StatusTooManyRequests, `{}`, true, false, false},
		{"bad key", http.StatusUnauthorized, `{"error":{"message":"invalid api key"}}`, false, true, false},
		{"no choices", http.StatusOK, `{"choices":[]}`, false, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			a := NewOpenRouterAnalyzer("sk-test", "m", srv.URL, utils.NopLogger())
			_, err := a.Complete(context.Background(), Request{Instruction: "x", Image: []byte("y")})
			if err == nil {
				t.Fatal("expected an error")
			}
			if IsUnavailable(err) != tc.unavailable {
				t.Errorf("IsUnavailable = %v, want %v (%v)", !tc.unavailable, tc.unavailable, err)
			}
			if IsConfiguration(err) != tc.config {
				t.Errorf("IsConfiguration = %v, want %v (%v)", !tc.config, tc.config, err)
			}
			if errors.Is(err, ErrEmptyResponse) != tc.emptyRespErr {
				t.Errorf("ErrEmptyResponse match = %v (%v)", !tc.emptyRespErr, err)
			}
		})
	}
}

func TestMissingKeyIsConfigurationError(t *testing.T) {
	t.Parallel()

	for _, a := range []Analyzer{
		NewOpenRouterAnalyzer("", "m", "", utils.NopLogger()),
		NewGeminiAnalyzer("  ", "gemini-2.0-flash", utils.NopLogger()),
	} {
		if a.Configured() {
			t.Errorf("%s reports configured without a key", a.ModelName())
		}
		_, err := a.Complete(context.Background(), Request{})
		if !errors.Is(err, ErrNotConfigured) || !IsConfiguration(err) {
			t.Errorf("%s: err = %v", a.ModelName(), err)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	unavailable := []error{
		context.DeadlineExceeded,
		fmt.Errorf("wrapped: %w", context.DeadlineExceeded),
		status.Error(codes.Unavailable, "backend down"),
		status.Error(codes.ResourceExhausted, "slow down"),
		errors.New("dial tcp: connection refused"),
	}
	for _, err := range unavailable {
		if !IsUnavailable(err) {
			t.Errorf("IsUnavailable(%v) = false", err)
		}
	}

	configuration := []error{
		status.Error(codes.Unauthenticated, "no"),
		status.Error(codes.PermissionDenied, "no"),
		errors.New("googleapi: Error 400: API key not valid"),
	}
	for _, err := range configuration {
		if !IsConfiguration(err) {
			t.Errorf("IsConfiguration(%v) = false", err)
		}
	}

	if IsUnavailable(nil) || IsConfiguration(nil) {
		t.Error("nil must not classify")
	}
	if IsUnavailable(errors.New("json: unexpected end")) {
		t.Error("a decode error is not an availability problem")
	}
}

func TestDetectMIMEType(t *testing.T) {
	t.Parallel()

	png := []byte("\x89PNG\r\n\x1a\n0000")
	cases := []struct {
		data []byte
		hint string
		want string
	}{
		{nil, "image/webp", "image/webp"},
		{nil, "image/jpg", "image/jpeg"},
		{png, "", "image/png"},
		{png, "application/octet-stream", "image/png"},
		{nil, "", "image/jpeg"},
	}
	for _, tc := range cases {
		if got := DetectMIMEType(tc.data, tc.hint); got != tc.want {
			t.Errorf("DetectMIMEType(%q, %q) = %q, want %q", tc.data, tc.hint, got, tc.want)
		}
	}
}

func TestFirstText(t *testing.T) {
	t.Parallel()

	if firstText(nil) != "" {
		t.Error("nil response should yield empty text")
	}
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{&genai.Blob{MIMEType: "image/png"}, genai.Text("hello")}}},
		},
	}
	if got := firstText(resp); got != "hello" {
		t.Errorf("firstText = %q", got)
	}
}
