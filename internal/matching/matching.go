// Package matching runs one provider through the whole pipeline: hard
// eligibility rules, shortlist selection, prompt assembly, completion and
// response validation.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/ai"
	"github.com/spigell/md-matcher/internal/directory"
	"github.com/spigell/md-matcher/internal/filtering"
	"github.com/spigell/md-matcher/internal/logger"
	"github.com/spigell/md-matcher/internal/prompt"
	"github.com/spigell/md-matcher/internal/response"
	"github.com/spigell/md-matcher/internal/selection"
	"github.com/spigell/md-matcher/internal/telemetry"
)

// Directory yields the current directory snapshot. *directory.Store
// satisfies it.
type Directory interface {
	Snapshot(ctx context.Context) (*directory.Snapshot, error)
}

// Deps wires a Service. Directory and Completer are required; the rest fall
// back to defaults.
type Deps struct {
	Directory Directory
	Completer ai.Completer
	Steps     []filtering.Filter
	Selector  *selection.Selector
	Assembler *prompt.Assembler
	Validator *response.Validator
	Params    ai.ModelParams
	Metrics   *telemetry.Metrics
	Logger    *zap.Logger
}

// Request asks for matches for one provider. Either ProviderRef, looked up
// in the directory, or Provider must be set.
type Request struct {
	ProviderRef string              `json:"provider,omitempty" validate:"required_without=Provider"`
	Provider    *directory.Provider `json:"provider_data,omitempty"`
	Filters     selection.Filters   `json:"filters"`
	Cap         int                 `json:"cap,omitempty" validate:"omitempty,gte=1"`
}

// Outcome is everything produced for a successful request.
type Outcome struct {
	RequestID  string               `json:"request_id"`
	Provider   *directory.Provider  `json:"provider"`
	Steps      []filtering.Step     `json:"filter_steps"`
	Eligible   int                  `json:"eligible"`
	Shortlist  *selection.Shortlist `json:"-"`
	Prompt     string               `json:"-"`
	Completion *ai.Completion       `json:"-"`
	Result     *response.Result     `json:"result"`
	StartedAt  time.Time            `json:"started_at"`
	Duration   time.Duration        `json:"duration"`
}

// RequestError reports a malformed request.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return fmt.Sprintf("invalid match request: %v", e.Err) }

func (e *RequestError) Unwrap() error { return e.Err }

// ErrProviderNotFound is returned when ProviderRef matches no provider.
var ErrProviderNotFound = errors.New("provider not found")

// Service is safe for concurrent use; requests share nothing but the
// read-only directory snapshot.
type Service struct {
	dir       Directory
	completer ai.Completer
	steps     []filtering.Filter
	selector  *selection.Selector
	assembler *prompt.Assembler
	validator *response.Validator
	params    ai.ModelParams
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time
}

// New creates a Service.
func New(deps Deps) (*Service, error) {
	if deps.Directory == nil {
		return nil, errors.New("directory is required")
	}
	if deps.Completer == nil {
		return nil, errors.New("completer is required")
	}

	log := logger.WithFields(deps.Logger)
	s := &Service{
		dir:       deps.Directory,
		completer: deps.Completer,
		steps:     deps.Steps,
		selector:  deps.Selector,
		assembler: deps.Assembler,
		validator: deps.Validator,
		params:    deps.Params,
		metrics:   deps.Metrics,
		logger:    log,
		validate:  validator.New(),
		now:       time.Now,
	}
	if s.steps == nil {
		s.steps = filtering.DefaultSteps()
	}
	if s.selector == nil {
		s.selector = selection.New(selection.DefaultOptions(), log)
	}
	if s.assembler == nil {
		s.assembler = prompt.New("")
	}
	if s.validator == nil {
		s.validator = response.New()
	}
	return s, nil
}

// Steps returns the configured hard rules.
func (s *Service) Steps() []filtering.Filter {
	return s.steps
}

// Match runs the pipeline for the request. Errors keep their types:
// *directory.LoadError, *filtering.NoEligibleError, *prompt.AssemblyError,
// *ai.CompletionError and *response.ParseError.
func (s *Service) Match(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{RequestID: uuid.NewString(), StartedAt: s.now()}
	obs := telemetry.Observation{}

	err := s.match(ctx, req, out, &obs)
	out.Duration = s.now().Sub(out.StartedAt)

	obs.Outcome = outcomeFor(err)
	obs.Duration = out.Duration
	s.metrics.Record(ctx, obs)

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) match(ctx context.Context, req Request, out *Outcome, obs *telemetry.Observation) error {
	if err := s.validate.Struct(req); err != nil {
		return &RequestError{Err: err}
	}

	snap, err := s.dir.Snapshot(ctx)
	if err != nil {
		return err
	}

	var provider *directory.Provider
	if req.Provider != nil {
		provider = req.Provider.Normalized()
	} else if provider = snap.FindProvider(req.ProviderRef); provider == nil {
		return fmt.Errorf("%w: %q", ErrProviderNotFound, strings.TrimSpace(req.ProviderRef))
	}
	out.Provider = provider

	log := logger.WithFields(s.logger, logger.MatchFields(out.RequestID, provider.Key())...)
	log.Info("starting the match",
		zap.String("license_type", string(provider.LicenseType)),
		zap.String("state", provider.State),
		zap.Int("directors", len(snap.Directors)),
	)

	eligible, steps, err := filtering.Run(ctx, filtering.Deps{Provider: provider, Logger: log}, s.steps, snap.Directors)
	out.Steps = steps
	if err != nil {
		log.Warn("no eligible directors", zap.Error(err))
		return err
	}
	out.Eligible = len(eligible)

	shortlist, err := s.selector.WithCap(req.Cap).WithLogger(log).Select(ctx, eligible, provider, req.Filters)
	if err != nil {
		return err
	}
	out.Shortlist = shortlist
	obs.Shortlist = len(shortlist.Directors)
	obs.SoftFallback = shortlist.Fallback

	text, err := s.assembler.Assemble(prompt.Request{
		Provider:  provider,
		Directors: shortlist.Directors,
		Filters:   req.Filters,
	})
	if err != nil {
		return err
	}
	out.Prompt = text

	completion, err := s.completer.Complete(ctx, ai.Request{
		SystemInstruction: prompt.SystemInstruction,
		Prompt:            text,
		Params:            s.params,
	})
	if err != nil {
		log.Error("completion failed", zap.Error(err))
		return err
	}
	out.Completion = completion
	obs.Fallback = completion.Attempts > 1

	result, err := s.validator.Validate(completion.Text, shortlist.Directors)
	if err != nil {
		log.Error("model response rejected", zap.Error(err))
		return err
	}
	out.Result = result
	obs.Dropped = len(result.Dropped)

	for _, w := range result.Warnings {
		log.Warn("model response warning", zap.String("warning", w))
	}
	log.Info("match complete",
		zap.String(logger.FieldModel, completion.Model),
		zap.Int("shortlist", len(shortlist.Directors)),
		zap.Int("matches", len(result.Entries)),
		zap.Int("dropped", len(result.Dropped)),
		zap.Int("unverified", result.Unverified()),
	)
	return nil
}

func outcomeFor(err error) string {
	var (
		noEligible *filtering.NoEligibleError
		assembly   *prompt.AssemblyError
		completion *ai.CompletionError
		parse      *response.ParseError
	)
	switch {
	case err == nil:
		return telemetry.OutcomeMatched
	case errors.As(err, &noEligible):
		return telemetry.OutcomeNoEligible
	case errors.As(err, &assembly):
		return telemetry.OutcomeAssembly
	case errors.As(err, &completion):
		return telemetry.OutcomeCompletion
	case errors.As(err, &parse):
		return telemetry.OutcomeParse
	default:
		return telemetry.OutcomeError
	}
}
