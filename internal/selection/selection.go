// Package selection narrows the eligible directors to a bounded, ordered
// shortlist that fits in a prompt.
package selection

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/directory"
	"github.com/spigell/md-matcher/internal/filtering"
)

// LocationPolicy controls how the provider's state shapes the shortlist.
type LocationPolicy string

const (
	SameStateOnly    LocationPolicy = "same_state_only"
	NearbyAcceptable LocationPolicy = "nearby_acceptable"
	AnyLocation      LocationPolicy = "any_location"
)

// ParseLocationPolicy accepts the policy values and the labels used in the
// interactive prompts. Unknown values fall back to NearbyAcceptable.
func ParseLocationPolicy(value string) LocationPolicy {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	switch {
	case key == string(SameStateOnly), strings.HasPrefix(key, "same_state"):
		return SameStateOnly
	case key == string(AnyLocation), key == "any", strings.HasPrefix(key, "any_location"):
		return AnyLocation
	}
	return NearbyAcceptable
}

// Filters are the per-request preferences. Everything except LocationPolicy
// is advisory.
type Filters struct {
	LocationPolicy   LocationPolicy `json:"location_policy,omitempty" validate:"omitempty,oneof=same_state_only nearby_acceptable any_location"`
	Experience       string         `json:"experience,omitempty"`
	License          string         `json:"license_type,omitempty"`
	AgeStyle         string         `json:"age_style,omitempty"`
	InteractionStyle string         `json:"interaction_style,omitempty"`
	Requirements     string         `json:"requirements,omitempty"`
}

// Policy returns the location policy, defaulting to NearbyAcceptable.
func (f Filters) Policy() LocationPolicy {
	if f.LocationPolicy == "" {
		return NearbyAcceptable
	}
	return f.LocationPolicy
}

// Options bound the shortlist.
type Options struct {
	// Cap is the maximum shortlist length.
	Cap int `mapstructure:"cap" validate:"gte=1"`
	// SameStateShare is the part of Cap reserved for same-state directors
	// when both partitions have candidates.
	SameStateShare float64 `mapstructure:"same-state-share" validate:"gte=0,lte=1"`
}

// DefaultOptions returns a cap of 20 split evenly.
func DefaultOptions() Options {
	return Options{Cap: 20, SameStateShare: 0.5}
}

// Shortlist is the ordered selector output. Same-state directors come first.
type Shortlist struct {
	Directors []*directory.MedicalDirector
	// SameState is the number of leading same-state directors.
	SameState int
	// Excluded counts eligible directors left out of the shortlist.
	Excluded int
	// Fallback is set when the soft filters emptied the set and were abandoned.
	Fallback bool
	// Abandoned names the soft filters that were dropped by the fallback.
	Abandoned []string
}

// Selector builds shortlists. It is safe for concurrent use.
type Selector struct {
	opts   Options
	rules  []PreferenceRule
	logger *zap.Logger
}

// New creates a Selector with the default preference rules.
func New(opts Options, logger *zap.Logger) *Selector {
	if opts.Cap <= 0 {
		opts.Cap = DefaultOptions().Cap
	}
	if opts.SameStateShare < 0 || opts.SameStateShare > 1 {
		opts.SameStateShare = DefaultOptions().SameStateShare
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{opts: opts, rules: DefaultPreferenceRules(), logger: logger}
}

// WithRules replaces the preference exclusion rules.
func (s *Selector) WithRules(rules []PreferenceRule) *Selector {
	clone := *s
	clone.rules = rules
	return &clone
}

// WithCap returns a Selector with a different cap. Non-positive caps keep the
// current one.
func (s *Selector) WithCap(limit int) *Selector {
	clone := *s
	if limit > 0 {
		clone.opts.Cap = limit
	}
	return &clone
}

// WithLogger returns a Selector logging to logger.
func (s *Selector) WithLogger(logger *zap.Logger) *Selector {
	clone := *s
	if logger != nil {
		clone.logger = logger
	}
	return &clone
}

// Options returns the effective options.
func (s *Selector) Options() Options {
	return s.opts
}

// Select builds the shortlist for the provider out of the eligible set. It
// is deterministic: identical inputs yield the same shortlist in the same
// order.
func (s *Selector) Select(ctx context.Context, eligible []*directory.MedicalDirector, p *directory.Provider, f Filters) (*Shortlist, error) {
	if p == nil {
		return nil, errors.New("provider is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list := &Shortlist{}

	pool := eligible
	if p.State != "" && f.Policy() == SameStateOnly {
		pool, _ = partition(eligible, p.State)
		if len(pool) == 0 {
			return nil, &filtering.NoEligibleError{Rule: filtering.RuleLocation, Reason: "no same-state directors"}
		}
	}

	pool, abandoned := s.applySoft(pool, p, f)
	if abandoned != nil {
		list.Fallback = true
		list.Abandoned = abandoned
		s.logger.Warn("soft filters emptied the candidate set; reverting to eligible directors",
			zap.String("provider", p.Key()),
			zap.Strings("abandoned_filters", abandoned),
			zap.Int("eligible", len(eligible)),
		)
	}

	same, other := partition(pool, p.State)

	tokens := Tokenize(f.Requirements)
	if len(tokens) > 0 {
		same = rank(same, tokens)
		other = rank(other, tokens)
	}

	takeSame, takeOther := split(len(same), len(other), s.opts.Cap, s.opts.SameStateShare)
	list.Directors = make([]*directory.MedicalDirector, 0, takeSame+takeOther)
	list.Directors = append(list.Directors, same[:takeSame]...)
	list.Directors = append(list.Directors, other[:takeOther]...)
	list.SameState = takeSame
	list.Excluded = len(eligible) - len(list.Directors)

	s.logger.Info("selection step",
		zap.String("name", "shortlist"),
		zap.Int("initial", len(eligible)),
		zap.Int("dropped", list.Excluded),
		zap.Int("left", len(list.Directors)),
		zap.Int("same_state", takeSame),
	)

	return list, nil
}

// partition splits directors into those covering the state and the rest,
// keeping input order. With no state everyone lands in other.
func partition(in []*directory.MedicalDirector, state string) (same, other []*directory.MedicalDirector) {
	same = make([]*directory.MedicalDirector, 0, len(in))
	other = make([]*directory.MedicalDirector, 0, len(in))
	for _, d := range in {
		if state != "" && d.InState(state) {
			same = append(same, d)
		} else {
			other = append(other, d)
		}
	}
	return same, other
}

// split decides how many same-state and other directors make the cap. When
// both partitions have candidates the same-state share is reserved first,
// the other partition fills the rest and any unused room goes back to
// same-state directors.
func split(sameLen, otherLen, limit int, share float64) (takeSame, takeOther int) {
	if sameLen == 0 || otherLen == 0 {
		return min(sameLen, limit), min(otherLen, max(limit-sameLen, 0))
	}
	quota := int(float64(limit) * share)
	takeSame = min(sameLen, quota)
	takeOther = min(otherLen, limit-takeSame)
	takeSame = min(sameLen, limit-takeOther)
	return takeSame, takeOther
}

// Tokenize lower-cases and whitespace-splits the free text requirements.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Score counts token occurrences across the director's name, traits,
// preferences and accepted services.
func Score(d *directory.MedicalDirector, tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	parts := make([]string, 0, 1+len(d.Traits)+len(d.Preferences)+len(d.AcceptedServices))
	parts = append(parts, d.Name)
	parts = append(parts, d.Traits...)
	parts = append(parts, d.Preferences...)
	parts = append(parts, d.AcceptedServices...)
	text := strings.ToLower(strings.Join(parts, " "))

	score := 0
	for _, tok := range tokens {
		score += strings.Count(text, tok)
	}
	return score
}

// rank orders directors by descending score. Ties keep their input order.
func rank(in []*directory.MedicalDirector, tokens []string) []*directory.MedicalDirector {
	type scored struct {
		d     *directory.MedicalDirector
		score int
	}
	items := make([]scored, len(in))
	for i, d := range in {
		items[i] = scored{d: d, score: Score(d, tokens)}
	}
	slices.SortStableFunc(items, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})
	out := make([]*directory.MedicalDirector, len(items))
	for i, it := range items {
		out[i] = it.d
	}
	return out
}
