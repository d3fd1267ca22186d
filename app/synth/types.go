package synth

import (
	"errors"
	"time"

	"github.com/lysyi3m/research-digest/app/papers"
)

var (
	ErrGenerationUnavailable = errors.New("generation service unavailable")
	ErrGenerationEmpty       = errors.New("generation service returned empty text")
)

type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

func (p Params) Validate() error {
	if p.Model == "" {
		return errors.New("model is required")
	}
	if p.MaxTokens <= 0 {
		return errors.New("max tokens must be positive")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if p.TopP < 0 || p.TopP > 1 {
		return errors.New("top_p must be between 0 and 1")
	}
	return nil
}

// Request is consumed once. Paper order is ranking order.
type Request struct {
	Papers []papers.Paper
	Params Params
	Date   time.Time
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Result struct {
	Text        string
	Model       string
	CompletedAt time.Time
	Success     bool
	Usage       Usage
	Duration    time.Duration
	Attempts    int
	Truncated   bool
}
