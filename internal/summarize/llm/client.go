package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/cherryfeed/cherry/internal/summarize"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrEmptyResponse = errors.New("model returned no content")
	ErrBreakerOpen   = errors.New("summarizer circuit breaker is open")
)

const (
	previewPrompt = "You write a single-sentence preview of a post for a personalized digest. " +
		"Prefer the sentence most related to the reader's interests. Reply with the sentence only, at most 120 characters."
	refinePrompt = "You write a TL;DR for a personalized digest in the form " +
		"\"TL;DR: <short preview> (Relevant because: <reason>)\". Keep the preview under 60 characters. Reply with the TL;DR only."
)

// CompletionsAPI is the subset of the OpenAI chat API the summarizer needs.
type CompletionsAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Summarizer implements summarize.Summarizer with chat completions.
// Requests are bounded by a semaphore and guarded by a circuit breaker.
type Summarizer struct {
	api       CompletionsAPI
	model     string
	breaker   *gobreaker.CircuitBreaker
	semaphore *semaphore.Weighted
	retry     config.Retry
	logger    *zap.Logger
}

// New creates an OpenAI-backed summarizer.
func New(cfg *config.OpenAI, retry config.Retry, logger *zap.Logger) *Summarizer {
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithRequestTimeout(config.Millis(cfg.RequestTimeout)),
		option.WithMaxRetries(0),
	)

	return NewWithAPI(&client.Chat.Completions, cfg.Model, cfg.MaxConcurrent, retry, logger)
}

// NewWithAPI creates a summarizer over any completions implementation.
func NewWithAPI(api CompletionsAPI, model string, maxConcurrent int64, retry config.Retry, logger *zap.Logger) *Summarizer {
	logger = logger.Named("llm_summarizer")

	settings := gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		Interval:    0,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Summarizer{
		api:       api,
		model:     model,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		semaphore: semaphore.NewWeighted(max(maxConcurrent, 1)),
		retry:     retry,
		logger:    logger,
	}
}

// Preview asks the model for a one-sentence preview.
func (s *Summarizer) Preview(
	ctx context.Context, content string, index *summarize.Index, watchlist []*types.WatchlistEntry,
) (string, error) {
	user := fmt.Sprintf("Reader interests: %s\nMain topic: %s\nKey concepts: %s\n\nPost:\n%s",
		interests(watchlist), index.MainTopic, strings.Join(index.KeyConcepts, ", "), content)

	return s.complete(ctx, previewPrompt, user)
}

// Refine asks the model for the final TL;DR.
func (s *Summarizer) Refine(
	ctx context.Context, preview string, index *summarize.Index, watchlist []*types.WatchlistEntry,
) (string, error) {
	user := fmt.Sprintf("Reader interests: %s\nMatched interests: %s\nRelevance: %s\nMain topic: %s\n\nPreview:\n%s",
		interests(watchlist), strings.Join(index.Matched, ", "), index.RelevanceLevel, index.MainTopic, preview)

	return s.complete(ctx, refinePrompt, user)
}

// complete sends one chat request with retries, returning the trimmed reply.
func (s *Summarizer) complete(ctx context.Context, system, user string) (string, error) {
	if err := s.semaphore.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("failed to acquire semaphore: %w", err)
	}
	defer s.semaphore.Release(1)

	params := openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.2),
	}

	var (
		attempt uint64
		text    string
	)

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempt++

		result, err := s.breaker.Execute(func() (any, error) {
			return s.api.New(ctx, params)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %w", ErrBreakerOpen, err))
			}

			s.logger.Warn("Failed to make request",
				zap.Error(err),
				zap.String("model", s.model),
				zap.Uint64("attempt", attempt))
			return err
		}

		resp, ok := result.(*openai.ChatCompletion)
		if !ok || resp == nil || len(resp.Choices) == 0 {
			return backoff.Permanent(ErrEmptyResponse)
		}

		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return backoff.Permanent(ErrEmptyResponse)
		}

		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = config.Millis(s.retry.Delay)
	expBackoff.MaxInterval = config.Millis(s.retry.MaxDelay)
	expBackoff.MaxElapsedTime = 0

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expBackoff, s.retry.MaxRetries), ctx)); err != nil {
		return "", err
	}

	return text, nil
}

func interests(watchlist []*types.WatchlistEntry) string {
	if len(watchlist) == 0 {
		return "none"
	}

	parts := make([]string, 0, len(watchlist))
	for _, entry := range watchlist {
		parts = append(parts, fmt.Sprintf("%s %q (weight %.1f)", entry.Kind, entry.Value, entry.Weight))
	}
	return strings.Join(parts, "; ")
}
