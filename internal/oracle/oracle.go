// Package oracle implements the Validation Oracle Client of spec.md §4.A:
// a cache-first, model-fallback judge of whether a submitted word is a valid
// and creative replacement for a prompt's target word.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/hmcalister/wordduel-server/internal/config"
	"github.com/hmcalister/wordduel-server/internal/content"
	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/metrics"
)

// ErrOracleUnavailable is returned by Validate and GenerateWord when every
// configured model rate-limits or a model call fails with any other error.
// A missing API key is not reported through it: NewClient returns a plain
// error and builds no Client.
var ErrOracleUnavailable = errors.New("oracle: unavailable")

// Result is the judged outcome of one word submission (spec.md §4.A).
type Result struct {
	IsValid         bool
	CreativityScore int
	Reason          string
	FromCache       bool
}

// caller performs one structured-JSON round trip for a single model
// identifier. modelCaller is the production implementation; tests supply
// fakes.
type caller interface {
	call(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// modelCaller performs one structured-JSON chat completion bound to a single
// model identifier, mirroring storbeck-augustus/internal/generators/openai's
// OpenAI.generateChat but trimmed to the single round trip this oracle needs.
type modelCaller struct {
	client *goopenai.Client
	model  string
}

func (m modelCaller) call(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: m.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("oracle: empty response from model %s", m.model)
	}
	return resp.Choices[0].Message.Content, nil
}

// isRateLimitError mirrors
// storbeck-augustus/internal/generators/openaicompat/ratelimit.go's
// IsRateLimitError: an OpenAI API error carries a 429 HTTP status.
func isRateLimitError(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429
	}
	return false
}

// Client is the Validation Oracle Client. It reads the Submission Record
// cache through a content.Provider (spec.md §4.A step 2) and falls back
// across an ordered chain of models on rate-limit errors (step 3).
type Client struct {
	provider  content.Provider
	models    []caller
	counters  *metrics.Counters
	sanitizer *bluemonday.Policy
}

// NewClient builds an oracle Client from configuration. Every configured
// model shares one underlying HTTP client/API key, the same way a single
// storbeck-augustus OpenAI generator is just reparameterized per model.
func NewClient(cfg config.OracleConfig, provider content.Provider, counters *metrics.Counters) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle: api_key is required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("oracle: at least one model is required")
	}
	oaClient := goopenai.NewClient(cfg.APIKey)
	models := make([]caller, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, modelCaller{client: oaClient, model: m})
	}
	return &Client{
		provider:  provider,
		models:    models,
		counters:  counters,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// newClientWithCallers builds a Client around pre-built callers, bypassing
// NewClient's API-key requirement. Used by tests to exercise the rate-limit
// fallback chain and sanitization without a network call.
func newClientWithCallers(models []caller, provider content.Provider, counters *metrics.Counters) *Client {
	return &Client{
		provider:  provider,
		models:    models,
		counters:  counters,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

const systemPrompt = `You judge a word game. The player replaced a target word in a sentence ` +
	`under a creative instruction. Respond with a single JSON object with exactly these fields: ` +
	`"is_valid" (boolean), "creativity_score" (integer 0-5), "reason" (short string). ` +
	`is_valid means the replacement word is a real word that fits the sentence grammatically and ` +
	`satisfies the instruction. creativity_score rates how creative/surprising a valid replacement ` +
	`is; use 0 only when is_valid is false.`

func userPrompt(word, target, promptText, sentence, language string) string {
	return fmt.Sprintf(
		"language: %s\nsentence: %s\ntarget_word: %s\ninstruction: %s\nsubmitted_word: %s\n",
		language, sentence, target, promptText, word,
	)
}

// rawJudgement is unmarshalled with interface{} fields so field types can be
// checked strictly before trusting them (spec.md §4.A step 4).
type rawJudgement struct {
	IsValid         interface{} `json:"is_valid"`
	CreativityScore interface{} `json:"creativity_score"`
	Reason          interface{} `json:"reason"`
}

// Validate implements spec.md §4.A's five-step algorithm.
func (c *Client) Validate(ctx context.Context, word string, promptID int64, target, promptText, sentence, language string) (Result, int64, error) {
	start := time.Now()
	word = strings.ToLower(strings.TrimSpace(word))

	if rec, ok := c.provider.LatestSubmission(ctx, promptID, word); ok {
		c.counters.IncOracleCacheHit()
		return Result{
			IsValid:         rec.IsValid,
			CreativityScore: rec.CreativityScore,
			Reason:          rec.Reason,
			FromCache:       true,
		}, 0, nil
	}

	up := userPrompt(word, target, promptText, sentence, language)

	var lastErr error
	for _, m := range c.models {
		raw, err := m.call(ctx, systemPrompt, up)
		if err != nil {
			if isRateLimitError(err) {
				lastErr = err
				continue
			}
			return Result{}, time.Since(start).Milliseconds(), fmt.Errorf("%w: %s", ErrOracleUnavailable, err)
		}

		c.counters.IncOracleCall()
		result := c.sanitize(raw)
		return result, time.Since(start).Milliseconds(), nil
	}

	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return Result{}, time.Since(start).Milliseconds(), fmt.Errorf("%w: all models rate-limited: %s", ErrOracleUnavailable, lastErr)
}

const generateSystemPrompt = `You play a word game. Given a sentence, a target word to replace, and an ` +
	`instruction, propose ONE novel single-word replacement that is not in the avoid list. Respond ` +
	`with a single JSON object with exactly these fields: "word" (string, lowercase, one word), ` +
	`"creativity_score" (integer 1-5).`

func generateUserPrompt(target, promptText, sentence, language string, avoid []string) string {
	return fmt.Sprintf(
		"language: %s\nsentence: %s\ntarget_word: %s\ninstruction: %s\navoid: %s\n",
		language, sentence, target, promptText, strings.Join(avoid, ", "),
	)
}

type rawGeneration struct {
	Word            interface{} `json:"word"`
	CreativityScore interface{} `json:"creativity_score"`
}

// GenerateWord asks the oracle for a novel word fitting the prompt and not
// present in avoid, for use by the Bot Policy (spec.md §4.B step 4). It
// shares the same rate-limit model-fallback chain as Validate but never
// consults or writes the Submission Record cache — a generated candidate is
// not itself a judged submission until the bot actually plays it.
func (c *Client) GenerateWord(ctx context.Context, target, promptText, sentence, language string, avoid []string) (string, int, error) {
	up := generateUserPrompt(target, promptText, sentence, language, avoid)

	var lastErr error
	for _, m := range c.models {
		raw, err := m.call(ctx, generateSystemPrompt, up)
		if err != nil {
			if isRateLimitError(err) {
				lastErr = err
				continue
			}
			return "", 0, fmt.Errorf("%w: %s", ErrOracleUnavailable, err)
		}
		c.counters.IncOracleCall()

		var rg rawGeneration
		if err := json.Unmarshal([]byte(raw), &rg); err != nil {
			return "", 0, fmt.Errorf("oracle: malformed generation JSON: %w", err)
		}
		word, _ := rg.Word.(string)
		word = strings.ToLower(strings.TrimSpace(word))
		score := 1
		if f, ok := rg.CreativityScore.(float64); ok {
			score = int(f)
			if score < 1 {
				score = 1
			}
			if score > 5 {
				score = 5
			}
		}
		return word, score, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return "", 0, fmt.Errorf("%w: all models rate-limited: %s", ErrOracleUnavailable, lastErr)
}

// sanitize implements spec.md §4.A step 4: clamp creativity for valid
// results, zero it for invalid ones, and downgrade to invalid on malformed
// field types. The reason string is always run through an HTML sanitizer
// before it can reach a client or a log line.
func (c *Client) sanitize(raw string) Result {
	var rj rawJudgement
	if err := json.Unmarshal([]byte(raw), &rj); err != nil {
		return Result{IsValid: false, CreativityScore: 0, Reason: "oracle returned malformed JSON"}
	}

	isValid, ok := rj.IsValid.(bool)
	if !ok {
		return Result{IsValid: false, CreativityScore: 0, Reason: "oracle returned a non-boolean is_valid"}
	}

	reasonRaw, ok := rj.Reason.(string)
	if !ok {
		reasonRaw = ""
	}
	reason := c.sanitizer.Sanitize(reasonRaw)

	scoreFloat, ok := rj.CreativityScore.(float64)
	if !ok {
		return Result{IsValid: false, CreativityScore: 0, Reason: "oracle returned a non-numeric creativity_score"}
	}
	score := int(scoreFloat)

	if !isValid {
		return Result{IsValid: false, CreativityScore: 0, Reason: reason}
	}

	if score < 1 {
		score = 1
	}
	if score > 5 {
		score = 5
	}
	return Result{IsValid: true, CreativityScore: score, Reason: reason}
}
