package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genai"

	"github.com/spigell/md-matcher/internal/ai"
)

type callRecord struct {
	model  string
	prompt string
	config *genai.GenerateContentConfig
}

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeModels struct {
	mu    sync.Mutex
	calls []callRecord
	queue map[string][]fakeResponse
}

func newFakeModels() *fakeModels {
	return &fakeModels{queue: make(map[string][]fakeResponse)}
}

func (f *fakeModels) enqueue(model string, resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[model] = append(f.queue[model], fakeResponse{resp: resp, err: err})
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prompt := ""
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		prompt = contents[0].Parts[0].Text
	}
	f.calls = append(f.calls, callRecord{model: model, prompt: prompt, config: config})

	responses := f.queue[model]
	if len(responses) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := responses[0]
	f.queue[model] = responses[1:]
	return res.resp, res.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func noWait(t *testing.T) *int {
	t.Helper()
	waits := 0
	original := wait
	wait = func(context.Context, time.Duration) error {
		waits++
		return nil
	}
	t.Cleanup(func() { wait = original })
	return &waits
}

func params() ai.ModelParams {
	return ai.ModelParams{Model: "gemini-pro", FallbackModel: "gemini-flash", Temperature: ai.Ptr[float32](0.2), MaxOutputTokens: 4000}
}

func TestGeneratorComplete(t *testing.T) {
	models := newFakeModels()
	models.enqueue("gemini-pro", textResponse(`{"matches": []}`), nil)

	g := newGenerator(models, params(), zap.NewNop(), 0)

	out, err := g.Complete(context.Background(), ai.Request{SystemInstruction: "system", Prompt: "  message  "})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if out.Text != `{"matches": []}` || out.Model != "gemini-pro" || out.Attempts != 1 {
		t.Fatalf("unexpected completion: %+v", out)
	}

	if len(models.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(models.calls))
	}

	call := models.calls[0]
	if call.prompt != "message" {
		t.Fatalf("unexpected prompt: %q", call.prompt)
	}
	if call.config == nil || call.config.SystemInstruction == nil {
		t.Fatalf("expected system instruction to be set")
	}
	if got := call.config.SystemInstruction.Parts[0].Text; got != "system" {
		t.Fatalf("unexpected system instruction: %q", got)
	}
	if call.config.Temperature == nil || *call.config.Temperature != 0.2 {
		t.Fatalf("unexpected temperature: %v", call.config.Temperature)
	}
	if call.config.MaxOutputTokens != 4000 {
		t.Fatalf("unexpected max output tokens: %d", call.config.MaxOutputTokens)
	}
}

func TestGeneratorFallsBackOnOverload(t *testing.T) {
	waits := noWait(t)
	core, logs := observer.New(zapcore.WarnLevel)

	models := newFakeModels()
	models.enqueue("gemini-pro", nil, genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE", Message: "The model is overloaded."})
	models.enqueue("gemini-flash", textResponse("fallback ok"), nil)

	g := newGenerator(models, params(), zap.New(core), 0)

	out, err := g.Complete(context.Background(), ai.Request{Prompt: "message"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if out.Text != "fallback ok" || out.Model != "gemini-flash" || out.Attempts != 2 {
		t.Fatalf("unexpected completion: %+v", out)
	}
	if out.Params.Model != "gemini-flash" {
		t.Fatalf("expected params to name the fallback model, got %q", out.Params.Model)
	}
	if *waits != 1 {
		t.Fatalf("expected one backoff wait, got %d", *waits)
	}
	if logs.FilterMessage("model overloaded; retrying once on fallback model").Len() != 1 {
		t.Fatalf("expected overload warning to be logged")
	}
}

func TestGeneratorFallbackFailureIsReported(t *testing.T) {
	noWait(t)

	models := newFakeModels()
	models.enqueue("gemini-pro", nil, genai.APIError{Code: 529, Message: "overloaded"})
	models.enqueue("gemini-flash", nil, genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"})

	g := newGenerator(models, params(), zap.NewNop(), 0)

	_, err := g.Complete(context.Background(), ai.Request{Prompt: "message"})

	var complErr *ai.CompletionError
	if !errors.As(err, &complErr) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
	if complErr.Model != "gemini-flash" || complErr.Attempts != 2 || !complErr.Overloaded {
		t.Fatalf("unexpected completion error: %+v", complErr)
	}
	if !errors.Is(err, ai.ErrOverloaded) {
		t.Fatalf("expected error to match ErrOverloaded")
	}
	if len(models.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(models.calls))
	}
}

func TestGeneratorDoesNotRetryOtherErrors(t *testing.T) {
	waits := noWait(t)

	models := newFakeModels()
	models.enqueue("gemini-pro", nil, genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"})

	g := newGenerator(models, params(), zap.NewNop(), 0)

	_, err := g.Complete(context.Background(), ai.Request{Prompt: "message"})

	var complErr *ai.CompletionError
	if !errors.As(err, &complErr) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
	if complErr.Attempts != 1 || complErr.Overloaded {
		t.Fatalf("unexpected completion error: %+v", complErr)
	}
	if len(models.calls) != 1 || *waits != 0 {
		t.Fatalf("expected a single call without waiting, got %d calls and %d waits", len(models.calls), *waits)
	}
}

func TestGeneratorOverloadWithoutFallback(t *testing.T) {
	noWait(t)

	models := newFakeModels()
	models.enqueue("gemini-pro", nil, genai.APIError{Code: http.StatusServiceUnavailable})

	p := params()
	p.FallbackModel = ""
	g := newGenerator(models, p, zap.NewNop(), 0)

	_, err := g.Complete(context.Background(), ai.Request{Prompt: "message"})
	if !errors.Is(err, ai.ErrOverloaded) {
		t.Fatalf("expected overloaded error, got %v", err)
	}
	if len(models.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(models.calls))
	}
}

func TestGeneratorEmptyResponse(t *testing.T) {
	models := newFakeModels()
	models.enqueue("gemini-pro", &genai.GenerateContentResponse{}, nil)

	g := newGenerator(models, params(), zap.NewNop(), 0)

	if _, err := g.Complete(context.Background(), ai.Request{Prompt: "message"}); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestGeneratorRejectsEmptyPrompt(t *testing.T) {
	g := newGenerator(newFakeModels(), params(), zap.NewNop(), 0)

	if _, err := g.Complete(context.Background(), ai.Request{Prompt: "   "}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestGeneratorRequestParamsOverrideDefaults(t *testing.T) {
	models := newFakeModels()
	models.enqueue("custom", textResponse("ok"), nil)

	g := newGenerator(models, params(), zap.NewNop(), 0)

	out, err := g.Complete(context.Background(), ai.Request{Prompt: "message", Params: ai.ModelParams{Model: "custom", Temperature: ai.Ptr[float32](0.7)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Params.Temperature == nil || *out.Params.Temperature != 0.7 || out.Params.MaxOutputTokens != 4000 || out.Params.FallbackModel != "gemini-flash" {
		t.Fatalf("unexpected resolved params: %+v", out.Params)
	}
}

func TestGeneratorKeepsZeroTemperature(t *testing.T) {
	models := newFakeModels()
	models.enqueue("gemini-pro", textResponse("ok"), nil)

	g := newGenerator(models, params(), zap.NewNop(), 0)

	out, err := g.Complete(context.Background(), ai.Request{Prompt: "message", Params: ai.ModelParams{Temperature: ai.Ptr[float32](0)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := models.calls[0].config.Temperature; got == nil || *got != 0 {
		t.Fatalf("expected temperature 0 to reach the api, got %v", got)
	}
	if out.Params.Temperature == nil || *out.Params.Temperature != 0 {
		t.Fatalf("unexpected resolved temperature: %v", out.Params.Temperature)
	}
}

func TestIsOverloaded(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{genai.APIError{Code: http.StatusServiceUnavailable}, true},
		{genai.APIError{Code: 529}, true},
		{genai.APIError{Code: http.StatusInternalServerError, Message: "Model is overloaded"}, true},
		{&genai.APIError{Status: "UNAVAILABLE"}, true},
		{genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}, false},
		{ai.ErrOverloaded, true},
		{errors.New("boom"), false},
		{nil, false},
	}

	for _, tc := range cases {
		if got := isOverloaded(tc.err); got != tc.want {
			t.Fatalf("isOverloaded(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
