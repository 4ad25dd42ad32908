// Package filtering applies the hard eligibility rules that decide which
// medical directors may supervise a provider at all.
package filtering

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/directory"
)

// Rule names carried by NoEligibleError.
const (
	RuleCalifornia   = "california"
	RuleCapacity     = "capacity"
	RuleMidLevelOnly = "mid_level_only"
	RuleLocation     = "location"
	RuleDirectory    = "directory"
)

// Filter represents a single hard eligibility rule applied to directors.
// Apply must not modify the input slice or the records in it.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Apply(ctx context.Context, deps Deps, in []*directory.MedicalDirector) ([]*directory.MedicalDirector, Step, error)
}

// Deps aggregates what every filtering step needs.
type Deps struct {
	Provider *directory.Provider
	Logger   *zap.Logger
}

// Step describes the result of executing a filtering step.
type Step struct {
	Name    string `json:"name"`
	Initial int    `json:"initial"`
	Dropped int    `json:"dropped"`
	Left    int    `json:"left"`
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NoEligibleError is returned when the hard rules leave no director. Rule
// names the rule that emptied the set.
type NoEligibleError struct {
	Rule   string
	Reason string
}

func (e *NoEligibleError) Error() string {
	return fmt.Sprintf("no eligible directors (%s): %s", e.Rule, e.Reason)
}

// IsNoEligible reports whether err is a NoEligibleError.
func IsNoEligible(err error) bool {
	var target *NoEligibleError
	return errors.As(err, &target)
}

type statusProvider interface {
	Status() Status
}

// emptyReasoner is implemented by filters that can explain an empty result.
type emptyReasoner interface {
	EmptyReason(p *directory.Provider) string
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// DefaultSteps returns the hard rules in evaluation order.
func DefaultSteps() []Filter {
	return []Filter{
		NewCalifornia(),
		NewCapacity(),
		NewMidLevelOnly(),
	}
}

// Run applies the enabled steps as an intersection. It fails with a
// NoEligibleError as soon as a step leaves nothing; there is no fallback to
// the unfiltered set.
func Run(ctx context.Context, deps Deps, steps []Filter, directors []*directory.MedicalDirector) ([]*directory.MedicalDirector, []Step, error) {
	if deps.Provider == nil {
		return nil, nil, errors.New("provider is required")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if len(directors) == 0 {
		return nil, nil, &NoEligibleError{Rule: RuleDirectory, Reason: "no directors are accepting providers"}
	}

	current := directors
	report := make([]Step, 0, len(steps))
	for _, step := range steps {
		if !step.IsEnabled() {
			log.Info("filter disabled", zap.String("name", step.Name()))
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		next, info, err := step.Apply(ctx, deps, current)
		if err != nil {
			return nil, report, fmt.Errorf("%s: %w", step.Name(), err)
		}
		info.Name = step.Name()
		report = append(report, info)

		log.Info("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)

		if len(next) == 0 {
			reason := "no directors left"
			if r, ok := step.(emptyReasoner); ok {
				reason = r.EmptyReason(deps.Provider)
			}
			return nil, report, &NoEligibleError{Rule: step.Name(), Reason: reason}
		}
		current = next
	}

	return current, report, nil
}

// Eligible runs the default hard rules for the provider.
func Eligible(ctx context.Context, directors []*directory.MedicalDirector, p *directory.Provider, logger *zap.Logger) ([]*directory.MedicalDirector, error) {
	eligible, _, err := Run(ctx, Deps{Provider: p, Logger: logger}, DefaultSteps(), directors)
	return eligible, err
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// keep returns the directors satisfying pred, in input order.
func keep(in []*directory.MedicalDirector, pred func(*directory.MedicalDirector) bool) ([]*directory.MedicalDirector, Step) {
	out := make([]*directory.MedicalDirector, 0, len(in))
	for _, d := range in {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out, Step{Initial: len(in), Dropped: len(in) - len(out), Left: len(out)}
}
