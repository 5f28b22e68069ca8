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

// Default values for the Gemini adapter.
const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
	defaultGeminiTimeout = 5 * time.Minute
)

// generateRequest is the Gemini generateContent request body.
type generateRequest struct {
	Contents         []geminiContent        `json:"contents"`
	Tools            []geminiTool           `json:"tools,omitempty"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

// geminiContent is one conversation turn.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is one part of a content turn.
type geminiPart struct {
	Text string `json:"text"`
}

// geminiTool declares a tool available to the model.
type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

// geminiGenerationConfig carries sampling and sizing parameters.
type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

// generateResponse is the Gemini generateContent response body.
type generateResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion"`
}

// geminiCandidate is one generated candidate with grounding metadata.
type geminiCandidate struct {
	Content           geminiContent           `json:"content"`
	GroundingMetadata *geminiGroundingMetadata `json:"groundingMetadata,omitempty"`
}

// geminiGroundingMetadata carries the web sources backing the candidate and
// the text segments each source supports.
type geminiGroundingMetadata struct {
	GroundingChunks   []geminiGroundingChunk   `json:"groundingChunks,omitempty"`
	GroundingSupports []geminiGroundingSupport `json:"groundingSupports,omitempty"`
	WebSearchQueries  []string                 `json:"webSearchQueries,omitempty"`
}

// geminiGroundingChunk is one web source.
type geminiGroundingChunk struct {
	Web *geminiWebSource `json:"web,omitempty"`
}

// geminiWebSource identifies a web page.
type geminiWebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// geminiGroundingSupport ties a text segment to the chunks that support it.
type geminiGroundingSupport struct {
	Segment               geminiSegment `json:"segment"`
	GroundingChunkIndices []int         `json:"groundingChunkIndices,omitempty"`
}

// geminiSegment is a character span of the candidate text.
type geminiSegment struct {
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
	Text       string `json:"text,omitempty"`
}

// geminiUsage contains token usage information.
type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// geminiErrorResponse is an error response from the Gemini API.
type geminiErrorResponse struct {
	Error geminiErrorDetail `json:"error"`
}

// geminiErrorDetail contains error details from the Gemini API.
type geminiErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GeminiExecutor implements StepExecutor against the Gemini generateContent
// API with Google Search grounding.
type GeminiExecutor struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	model      string
	baseURL    string
}

// Compile-time interface verification.
var _ StepExecutor = (*GeminiExecutor)(nil)

// GeminiConfig holds the parameters needed to create a Gemini executor.
// Defined here to avoid importing the config package.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the model identifier (empty means default).
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
	// RequestsPerMinute throttles outbound calls (0 disables throttling).
	RequestsPerMinute int
}

// NewGeminiExecutor creates a step executor backed by the Gemini
// generateContent API. Each Execute makes exactly one attempt; retry policy
// lives with the caller.
func NewGeminiExecutor(cfg GeminiConfig) *GeminiExecutor {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &GeminiExecutor{
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
func (e *GeminiExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultGeminiTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gemini: rate limiter wait: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: buildPrompt(req)}}},
		},
		Tools:            []geminiTool{{GoogleSearch: &struct{}{}}},
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: req.MaxOutputTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", e.baseURL, e.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("gemini: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseGeminiAPIError(resp.StatusCode, respBody)
	}

	var apiResp generateResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("gemini: unmarshal response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: response contains no candidates")
	}

	return e.mapResponse(&apiResp), nil
}

// mapResponse converts a generateContent body into a Result, collecting the
// candidate text and its grounding metadata.
func (e *GeminiExecutor) mapResponse(apiResp *generateResponse) *Result {
	candidate := apiResp.Candidates[0]
	accessedAt := time.Now().UTC()

	var text string
	for _, part := range candidate.Content.Parts {
		text += part.Text
	}

	result := &Result{
		RawText: text,
		TokenUsage: domain.TokenUsage{
			InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
		},
		ModelUsed: apiResp.ModelVersion,
	}
	if result.ModelUsed == "" {
		result.ModelUsed = e.model
	}

	gm := candidate.GroundingMetadata
	if gm == nil {
		return result
	}
	if len(gm.WebSearchQueries) > 0 {
		result.ToolsUsed = append(result.ToolsUsed, "google_search")
	}

	payload := &domain.GeminiPayload{}
	for _, chunk := range gm.GroundingChunks {
		gc := domain.GroundingChunk{}
		if chunk.Web != nil {
			gc.URI = chunk.Web.URI
			gc.Title = chunk.Web.Title
		}
		payload.GroundingChunks = append(payload.GroundingChunks, gc)
		if gc.URI != "" {
			result.Sources = append(result.Sources, domain.Citation{
				URL:        gc.URI,
				Title:      gc.Title,
				AccessedAt: accessedAt,
			})
		}
	}
	for _, support := range gm.GroundingSupports {
		payload.GroundingSupports = append(payload.GroundingSupports, domain.GroundingSupport{
			Segment: domain.GroundingSegment{
				StartIndex: support.Segment.StartIndex,
				EndIndex:   support.Segment.EndIndex,
				Text:       support.Segment.Text,
			},
			GroundingChunkIndices: support.GroundingChunkIndices,
		})
	}
	if len(payload.GroundingChunks) > 0 || len(payload.GroundingSupports) > 0 {
		result.Payload = &domain.ProviderPayload{
			Provider: domain.ProviderGemini,
			Gemini:   payload,
		}
	}
	return result
}

// parseGeminiAPIError builds an error carrying the API's status and message
// so callers can classify it.
func parseGeminiAPIError(statusCode int, body []byte) error {
	message := string(body)
	var errResp geminiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Status != "" {
			message = errResp.Error.Status + ": " + message
		}
	}
	return fmt.Errorf("gemini: API error (status %d): %s", statusCode, message)
}
