package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/utils"
)

// StoryRequest asks the model to rewrite extracted document text as a
// simplified cat story at a given complexity level.
type StoryRequest struct {
	Model       string
	Complexity  string
	SourceText  string
	Temperature float64
	MaxTokens   int
}

// StoryResult is the structured generation output plus usage accounting.
type StoryResult struct {
	Title       string   `json:"title"`
	Story       string   `json:"story"`
	Summary     string   `json:"summary"`
	KeyConcepts []string `json:"key_concepts"`

	TokensUsed     int
	CostUSD        float64
	ElapsedSeconds float64
}

type Client interface {
	GenerateStory(ctx context.Context, req StoryRequest) (*StoryResult, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
	// costPerKiloTokens approximates monetary cost from total token usage.
	costPerKiloTokens float64
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(utils.GetEnv("OPENAI_API_KEY", "", log))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com", log), "/")
	model := utils.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log)
	timeoutSec := utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 120, log)
	maxRetries := utils.GetEnvAsInt("OPENAI_MAX_RETRIES", 4, log)

	costPerKilo := 0.002
	if v := strings.TrimSpace(utils.GetEnv("OPENAI_COST_PER_1K_TOKENS", "", nil)); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed >= 0 {
			costPerKilo = parsed
		}
	}

	return &client{
		log:               log.With("client", "OpenAIClient"),
		baseURL:           baseURL,
		apiKey:            apiKey,
		model:             model,
		httpClient:        &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:        maxRetries,
		costPerKiloTokens: costPerKilo,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

const storySystemPrompt = `You rewrite documents as short stories about cats so the underlying ideas
become easy to follow. Keep every important concept from the source, map each
one to a character or event in the story, and finish with a plain-language
summary. Respond with a single JSON object: {"title", "story", "summary",
"key_concepts": [..]}.`

func complexityInstruction(level string) string {
	switch level {
	case "advanced":
		return "Aim at a well-read adult: keep technical vocabulary where the source uses it."
	case "intermediate":
		return "Aim at a curious teenager: explain technical terms the first time they appear."
	default:
		return "Aim at a young reader: short sentences, everyday words only."
	}
}

func (c *client) GenerateStory(ctx context.Context, req StoryRequest) (*StoryResult, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	user := fmt.Sprintf("%s\n\nSource document text:\n%s", complexityInstruction(req.Complexity), req.SourceText)

	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: storySystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:    temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	started := time.Now()
	var resp chatResponse
	if err := c.do(ctx, "POST", "/v1/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	elapsed := time.Since(started).Seconds()

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	var result StoryResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("openai story decode: %w", err)
	}
	if strings.TrimSpace(result.Story) == "" {
		return nil, fmt.Errorf("openai returned an empty story")
	}

	result.TokensUsed = resp.Usage.TotalTokens
	result.CostUSD = float64(resp.Usage.TotalTokens) / 1000.0 * c.costPerKiloTokens
	result.ElapsedSeconds = elapsed
	return &result, nil
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var he *httpError
	if errors.As(err, &he) {
		return he.StatusCode == 408 || he.StatusCode == 429 || (he.StatusCode >= 500 && he.StatusCode <= 599)
	}
	return false
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode: %w", uErr)
			}
			return nil
		}
		if !isRetryable(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := backoff
		if resp != nil {
			if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitter(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

// jitter spreads retries +/- 20% to avoid thundering herds.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := 0.2 * base.Seconds()
	v := base.Seconds() - delta + rand.Float64()*2*delta
	return time.Duration(v * float64(time.Second))
}
