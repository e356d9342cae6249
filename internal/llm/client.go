package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/metrics"
	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/apperr"
	"github.com/procureflow/backend/pkg/circuitbreaker"
	"github.com/procureflow/backend/pkg/fallback"
	"github.com/procureflow/backend/pkg/logger"
)

// chatAPI is the slice of the OpenAI client the adapter needs; tests inject a
// fake.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps the upstream structuring/comparison service. Every call walks
// an ordered list of candidate models: a timeout, quota error, or unparseable
// output from one model advances to the next; only when the whole list is
// exhausted does the caller see an error.
type Client struct {
	api         chatAPI
	models      []string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
}

func NewClient(apiKey, baseURL string, modelList []string, temperature float32, maxTokens, timeoutSec int) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	logger.Info("LLM client initialized",
		zap.Strings("models", modelList),
		zap.Int("timeout_sec", timeoutSec),
	)

	return &Client{
		api:         openai.NewClientWithConfig(cfg),
		models:      modelList,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
	}
}

// Structure converts free-form user text into structured RFP content. Fields
// the input does not support are absent from the result, never defaulted.
func (c *Client) Structure(ctx context.Context, userText string) (models.StructuredContent, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, apperr.InvalidInput("user text is required")
	}

	prompt := fmt.Sprintf(structurePrompt, userText)

	content, err := completeJSON[models.StructuredContent](ctx, c, "structure", prompt)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// VendorQuote is one response prepared for comparison.
type VendorQuote struct {
	VendorID    string `json:"vendor_id"`
	VendorName  string `json:"vendor_name"`
	VendorEmail string `json:"vendor_email"`
	Quote       string `json:"quote"`
	ReceivedAt  string `json:"received_at"`
}

// RawPick is a recommendation slot as the upstream service returns it: the
// vendor identifier may be a real id or just a name.
type RawPick struct {
	VendorID   string `json:"vendor_id"`
	VendorName string `json:"vendor_name"`
	Reasoning  string `json:"reasoning"`
}

// QuoteComparison is the upstream ranking output before vendor identity
// resolution.
type QuoteComparison struct {
	BestPrice    RawPick         `json:"best_price"`
	BestWarranty RawPick         `json:"best_warranty"`
	BestOverall  RawPick         `json:"best_overall"`
	Table        json.RawMessage `json:"comparison_table"`
	Summary      string          `json:"summary"`
}

func (c *Client) CompareQuotes(ctx context.Context, quotes []VendorQuote, requirements models.StructuredContent) (*QuoteComparison, error) {
	quotesJSON, err := json.MarshalIndent(quotes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal quotes: %w", err)
	}
	reqJSON, err := json.MarshalIndent(requirements, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal requirements: %w", err)
	}

	prompt := fmt.Sprintf(comparePrompt, reqJSON, quotesJSON)

	comparison, err := completeJSON[*QuoteComparison](ctx, c, "compare", prompt)
	if err != nil {
		return nil, err
	}
	return comparison, nil
}

// RFPSummary is the candidate list given to email identification.
type RFPSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// EmailIdentification classifies a pasted email against active RFPs.
type EmailIdentification struct {
	RFPID       string  `json:"rfp_id"`
	VendorName  string  `json:"vendor_name"`
	VendorEmail string  `json:"vendor_email"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

func (c *Client) IdentifyEmail(ctx context.Context, emailText string, candidates []RFPSummary) (*EmailIdentification, error) {
	if strings.TrimSpace(emailText) == "" {
		return nil, apperr.InvalidInput("email content is required")
	}

	candidatesJSON, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rfp candidates: %w", err)
	}

	prompt := fmt.Sprintf(identifyPrompt, emailText, candidatesJSON)

	ident, err := completeJSON[*EmailIdentification](ctx, c, "identify", prompt)
	if err != nil {
		return nil, err
	}
	return ident, nil
}

// completeJSON runs the model-fallback loop: each candidate model is asked
// once, the reply is unfenced and parsed, and a parse failure counts as that
// model's failure rather than a fatal error.
func completeJSON[T any](ctx context.Context, c *Client, operation, prompt string) (T, error) {
	start := time.Now()

	result, err := fallback.DoWithResult(ctx, fallback.Config{
		Candidates: c.models,
		Logger:     logger.GetLogger(),
	}, func(model string) (T, error) {
		var parsed T

		raw, err := c.complete(ctx, model, prompt)
		if err != nil {
			metrics.LLMRequestsTotal.WithLabelValues(model, operation, "error").Inc()
			return parsed, err
		}

		cleaned := StripCodeFences(raw)
		if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
			metrics.LLMRequestsTotal.WithLabelValues(model, operation, "parse_error").Inc()
			return parsed, fmt.Errorf("unparseable model output: %w", err)
		}

		metrics.LLMRequestsTotal.WithLabelValues(model, operation, "ok").Inc()
		return parsed, nil
	})

	metrics.LLMDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		var zero T
		logger.Error("All candidate models failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return zero, apperr.UpstreamUnavailable("all candidate models failed", err)
	}

	return result, nil
}

func (c *Client) complete(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		})
		if err != nil {
			return fmt.Errorf("completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}

		logger.Debug("LLM completion generated",
			zap.String("model", model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		metrics.LLMTokensUsed.WithLabelValues(model).Add(float64(resp.Usage.TotalTokens))

		content = resp.Choices[0].Message.Content
		return nil
	})

	return content, err
}

// StripCodeFences removes an optional markdown code-fence wrapper from model
// output.
func StripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
