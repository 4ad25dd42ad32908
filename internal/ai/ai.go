// Package ai defines the completion service the matcher talks to. Vendor
// clients live in subpackages.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrOverloaded marks a transient overload reported by the vendor.
var ErrOverloaded = errors.New("completion service overloaded")

// ModelParams select the model and its sampling settings.
type ModelParams struct {
	Model         string `mapstructure:"model" json:"model"`
	FallbackModel string `mapstructure:"fallback-model" json:"fallback_model,omitempty"`
	// Temperature is nil when unset; zero is a valid setting.
	Temperature     *float32 `mapstructure:"temperature" json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxOutputTokens int32    `mapstructure:"max-output-tokens" json:"max_output_tokens" validate:"gte=1"`
}

// DefaultModelParams returns a low temperature and room for a full ranking.
func DefaultModelParams() ModelParams {
	return ModelParams{
		Model:           "gemini-2.5-pro",
		FallbackModel:   "gemini-2.5-flash",
		Temperature:     Ptr[float32](0.2),
		MaxOutputTokens: 4000,
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Request is a single completion call.
type Request struct {
	SystemInstruction string
	Prompt            string
	Params            ModelParams
}

// Completion is the raw text answer and the model that produced it.
type Completion struct {
	Text     string
	Model    string
	Attempts int
	Params   ModelParams
}

// Completer turns a prompt into text. Implementations own retries; callers
// see either a completion or a CompletionError.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// CompletionError wraps a vendor failure after retries were exhausted.
type CompletionError struct {
	Model      string
	Attempts   int
	Overloaded bool
	Err        error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion with %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrOverloaded) see overload failures.
func (e *CompletionError) Is(target error) bool {
	return target == ErrOverloaded && e.Overloaded
}

var sleep = time.Sleep

// WaitFor blocks for d or until ctx is done.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	wait := sleep
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait(d)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
