package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lysyi3m/research-digest/app/retry"
)

type Completer interface {
	Complete(ctx context.Context, params Params, messages []ChatMessage) (*Completion, error)
}

var _ Completer = (*Client)(nil)

type Synthesizer struct {
	client           Completer
	breaker          *gobreaker.CircuitBreaker
	policy           retry.Policy
	timeout          time.Duration
	maxResponseChars int
	now              func() time.Time
}

func NewSynthesizer(client Completer, policy retry.Policy, timeout time.Duration, maxResponseChars int) *Synthesizer {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "generation",
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// Only transient failures count against the service
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
	})

	return &Synthesizer{
		client:           client,
		breaker:          breaker,
		policy:           policy,
		timeout:          timeout,
		maxResponseChars: maxResponseChars,
		now:              time.Now,
	}
}

// Synthesize makes one logical generation call for the whole paper list.
// Transient failures are retried according to the policy; everything else
// surfaces as ErrGenerationUnavailable or ErrGenerationEmpty.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	result := Result{Model: req.Params.Model}

	if len(req.Papers) == 0 {
		return result, errors.New("no papers to synthesize")
	}
	if err := req.Params.Validate(); err != nil {
		return result, fmt.Errorf("%w: invalid parameters: %w", ErrGenerationUnavailable, err)
	}

	messages := BuildMessages(req)
	started := s.now()

	completion, err := retry.Do(ctx, s.policy, func(ctx context.Context) (*Completion, error) {
		result.Attempts++

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		v, err := s.breaker.Execute(func() (interface{}, error) {
			return s.client.Complete(callCtx, req.Params, messages)
		})
		if err != nil {
			return nil, err
		}
		return v.(*Completion), nil
	})

	result.Duration = s.now().Sub(started)
	result.CompletedAt = s.now()

	if err != nil {
		slog.Error("Generation failed", "model", req.Params.Model, "attempts", result.Attempts, "error", err)
		return result, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	if completion.Model != "" {
		result.Model = completion.Model
	}
	result.Usage = completion.Usage

	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return result, ErrGenerationEmpty
	}

	text, truncated := truncate(text, s.maxResponseChars)
	if truncated {
		slog.Warn("Generated text truncated", "limit", s.maxResponseChars, "finish_reason", completion.FinishReason)
	}

	result.Text = text
	result.Truncated = truncated
	result.Success = true

	slog.Info("Generation completed",
		"model", result.Model,
		"papers", len(req.Papers),
		"attempts", result.Attempts,
		"total_tokens", result.Usage.TotalTokens,
		"chars", len(text),
		"duration", result.Duration.String())

	return result, nil
}
