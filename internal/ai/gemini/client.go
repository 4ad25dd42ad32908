package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/md-matcher/internal/ai"
	"github.com/spigell/md-matcher/internal/logger"
)

const (
	providerName        = "gemini"
	defaultMaxLogLength = 200
	overloadBackoff     = time.Second
	statusOverloaded    = 529
)

var wait = ai.WaitFor

type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator is an ai.Completer backed by the Gemini API. An overloaded
// primary model is retried once on the fallback model; any other failure is
// returned straight away.
type Generator struct {
	models    modelsAPI
	defaults  ai.ModelParams
	logger    *zap.Logger
	maxLogLen int
}

// NewGenerator creates a new Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, apiKey string, defaults ai.ModelParams, log *zap.Logger, maxLogLength int) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGenerator(client.Models, defaults, log, maxLogLength), nil
}

func newGenerator(models modelsAPI, defaults ai.ModelParams, log *zap.Logger, maxLogLength int) *Generator {
	if strings.TrimSpace(defaults.Model) == "" {
		defaults.Model = ai.DefaultModelParams().Model
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	return &Generator{
		models:    models,
		defaults:  defaults,
		logger:    logger.WithFields(log, zap.String(logger.FieldProvider, providerName)),
		maxLogLen: maxLogLength,
	}
}

// Model returns the default primary model.
func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.defaults.Model
}

// Complete implements ai.Completer.
func (g *Generator) Complete(ctx context.Context, req ai.Request) (*ai.Completion, error) {
	if g == nil || g.models == nil {
		return nil, errors.New("gemini generator is not initialized")
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("prompt must not be empty")
	}

	params := g.resolve(req.Params)
	config := &genai.GenerateContentConfig{
		Temperature:     params.Temperature,
		MaxOutputTokens: params.MaxOutputTokens,
	}
	if system := strings.TrimSpace(req.SystemInstruction); system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	model := params.Model
	g.logger.Debug("gemini generate content request",
		zap.String(logger.FieldModel, model),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, g.maxLogLen)),
	)

	attempts := 1
	text, err := g.generate(ctx, model, prompt, config)
	if err != nil {
		overloaded := isOverloaded(err)
		fallback := strings.TrimSpace(params.FallbackModel)
		if !overloaded || fallback == "" {
			return nil, &ai.CompletionError{Model: model, Attempts: attempts, Overloaded: overloaded, Err: err}
		}

		g.logger.Warn("model overloaded; retrying once on fallback model",
			zap.String(logger.FieldModel, model),
			zap.String("fallback_model", fallback),
			zap.Error(err),
		)
		if werr := wait(ctx, overloadBackoff); werr != nil {
			return nil, &ai.CompletionError{Model: model, Attempts: attempts, Overloaded: true, Err: werr}
		}

		attempts++
		model = fallback
		text, err = g.generate(ctx, model, prompt, config)
		if err != nil {
			return nil, &ai.CompletionError{Model: model, Attempts: attempts, Overloaded: isOverloaded(err), Err: err}
		}
	}

	g.logger.Debug("gemini generate content response",
		zap.String(logger.FieldModel, model),
		zap.Int("attempts", attempts),
		zap.Int("response_length", utf8.RuneCountInString(text)),
		zap.String("response_preview", logger.TruncateForLog(text, g.maxLogLen)),
	)

	params.Model = model
	return &ai.Completion{Text: text, Model: model, Attempts: attempts, Params: params}, nil
}

func (g *Generator) resolve(p ai.ModelParams) ai.ModelParams {
	if strings.TrimSpace(p.Model) == "" {
		p.Model = g.defaults.Model
	}
	if strings.TrimSpace(p.FallbackModel) == "" {
		p.FallbackModel = g.defaults.FallbackModel
	}
	if p.Temperature == nil {
		p.Temperature = g.defaults.Temperature
	}
	if p.MaxOutputTokens == 0 {
		p.MaxOutputTokens = g.defaults.MaxOutputTokens
	}
	return p
}

func (g *Generator) generate(ctx context.Context, model, prompt string, config *genai.GenerateContentConfig) (string, error) {
	resp, err := g.models.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil {
		return "", errors.New("gemini api returned no response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}

	return output, nil
}

// isOverloaded reports whether err is a transient capacity problem on the
// vendor side.
func isOverloaded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ai.ErrOverloaded) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return overloadedAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return overloadedAPIError(*apiErrPtr)
	}
	return false
}

func overloadedAPIError(e genai.APIError) bool {
	switch {
	case e.Code == http.StatusServiceUnavailable, e.Code == statusOverloaded:
		return true
	case strings.EqualFold(e.Status, "UNAVAILABLE"):
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "overloaded")
}
