package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// Default values for the OpenAI adapter.
const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-search-preview"
	defaultOpenAITimeout = 5 * time.Minute
)

// responsesRequest is the OpenAI Responses API request body.
type responsesRequest struct {
	Model           string          `json:"model"`
	Input           string          `json:"input"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Tools           []responsesTool `json:"tools,omitempty"`
}

// responsesTool declares a built-in tool available to the model.
type responsesTool struct {
	Type string `json:"type"`
}

// responsesResponse is the OpenAI Responses API response body.
type responsesResponse struct {
	ID     string          `json:"id"`
	Model  string          `json:"model"`
	Output []responsesItem `json:"output"`
	Usage  responsesUsage  `json:"usage"`
}

// responsesItem is one output item; messages carry content parts, tool calls
// carry only their type.
type responsesItem struct {
	Type    string             `json:"type"`
	Content []responsesContent `json:"content,omitempty"`
}

// responsesContent is one content part of a message output item.
type responsesContent struct {
	Type        string                `json:"type"`
	Text        string                `json:"text,omitempty"`
	Annotations []responsesAnnotation `json:"annotations,omitempty"`
}

// responsesAnnotation is a url_citation annotation anchored to a span of the
// output text.
type responsesAnnotation struct {
	Type       string `json:"type"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

// responsesUsage contains token usage information.
type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// openAIErrorResponse is an error response from the OpenAI API.
type openAIErrorResponse struct {
	Error openAIErrorDetail `json:"error"`
}

// openAIErrorDetail contains error details from the OpenAI API.
type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAIExecutor implements StepExecutor against the OpenAI Responses API
// with the built-in web_search tool.
type OpenAIExecutor struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	model      string
	baseURL    string
}

// Compile-time interface verification.
var _ StepExecutor = (*OpenAIExecutor)(nil)

// OpenAIConfig holds the parameters needed to create an OpenAI executor.
// Defined here to avoid importing the config package.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the model identifier (empty means default).
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
	// RequestsPerMinute throttles outbound calls (0 disables throttling).
	RequestsPerMinute int
}

// NewOpenAIExecutor creates a step executor backed by the OpenAI Responses
// API. Each Execute makes exactly one attempt; retry policy lives with the
// caller, which re-executes failed steps across orchestration passes.
func NewOpenAIExecutor(cfg OpenAIConfig) *OpenAIExecutor {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &OpenAIExecutor{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
	}
}

// Execute implements StepExecutor.
func (e *OpenAIExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("openai: rate limiter wait: %w", err)
	}

	body, err := json.Marshal(responsesRequest{
		Model:           e.model,
		Input:           buildPrompt(req),
		MaxOutputTokens: req.MaxOutputTokens,
		Tools:           []responsesTool{{Type: "web_search"}},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	endpoint := e.baseURL + "/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIAPIError(resp.StatusCode, respBody)
	}

	var apiResp responsesResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("openai: unmarshal response: %w", err)
	}

	return mapOpenAIResponse(req, &apiResp), nil
}

// mapOpenAIResponse converts a Responses API body into a Result, collecting
// text, url_citation annotations, and the tools the model invoked.
func mapOpenAIResponse(req Request, apiResp *responsesResponse) *Result {
	var (
		text        string
		annotations []domain.OpenAIAnnotation
		tools       []string
		sources     []domain.Citation
	)
	accessedAt := time.Now().UTC()

	for _, item := range apiResp.Output {
		if item.Type != "message" {
			if item.Type != "" {
				tools = append(tools, item.Type)
			}
			continue
		}
		for _, part := range item.Content {
			if part.Type != "output_text" {
				continue
			}
			text += part.Text
			for _, ann := range part.Annotations {
				if ann.Type != "url_citation" || ann.URL == "" {
					continue
				}
				annotations = append(annotations, domain.OpenAIAnnotation{
					StartIndex: ann.StartIndex,
					EndIndex:   ann.EndIndex,
					URL:        ann.URL,
					Title:      ann.Title,
				})
				sources = append(sources, domain.Citation{
					URL:        ann.URL,
					Title:      ann.Title,
					AccessedAt: accessedAt,
				})
			}
		}
	}

	result := &Result{
		RawText: text,
		Sources: sources,
		TokenUsage: domain.TokenUsage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
		ModelUsed: apiResp.Model,
		ToolsUsed: tools,
	}
	if result.ModelUsed == "" {
		result.ModelUsed = req.Provider.String()
	}
	if len(annotations) > 0 {
		result.Payload = &domain.ProviderPayload{
			Provider: domain.ProviderOpenAI,
			OpenAI:   &domain.OpenAIPayload{Annotations: annotations},
		}
	}
	return result
}

// parseOpenAIAPIError builds an error carrying the API's status and message
// so callers can classify it.
func parseOpenAIAPIError(statusCode int, body []byte) error {
	message := string(body)
	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Code != "" {
			message = errResp.Error.Code + ": " + message
		}
	}
	return fmt.Errorf("openai: API error (status %d): %s", statusCode, message)
}
