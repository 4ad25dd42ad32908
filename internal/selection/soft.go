package selection

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/directory"
)

// softFilter is an advisory predicate. A nil match means the filter is off.
type softFilter struct {
	name  string
	match func(d *directory.MedicalDirector) bool
}

var (
	youngerTraits     = []string{"young", "younger"}
	olderTraits       = []string{"older", "middle", "experienced"}
	handsOnTraits     = []string{"hands-on", "training", "collaborative"}
	autonomousTraits  = []string{"autonomous", "hands-off", "independent"}
	newProviderMarker = regexp.MustCompile(`(?i)\b(new|entry|junior|novice)\b|new grad|less than 1|0-1|<\s*1`)
)

// applySoft runs the soft filters and preference rules in order. When the
// result is empty it returns the input unchanged together with the names of
// every soft filter that was active.
func (s *Selector) applySoft(in []*directory.MedicalDirector, p *directory.Provider, f Filters) ([]*directory.MedicalDirector, []string) {
	filters := s.softFilters(p, f)
	if len(filters) == 0 {
		return in, nil
	}

	current := in
	active := make([]string, 0, len(filters))
	for _, sf := range filters {
		next := make([]*directory.MedicalDirector, 0, len(current))
		for _, d := range current {
			if sf.match(d) {
				next = append(next, d)
			}
		}
		active = append(active, sf.name)
		s.logger.Debug("soft filter step",
			zap.String("name", sf.name),
			zap.Int("initial", len(current)),
			zap.Int("dropped", len(current)-len(next)),
			zap.Int("left", len(next)),
		)
		current = next
	}

	if len(current) == 0 {
		return in, active
	}
	return current, nil
}

func (s *Selector) softFilters(p *directory.Provider, f Filters) []softFilter {
	var out []softFilter

	if v := activeValue(f.Experience); v != "" {
		out = append(out, softFilter{name: "experience", match: func(d *directory.MedicalDirector) bool {
			return containsFold(d.ExperienceLevel, v)
		}})
	}

	if v := activeValue(f.License); v != "" {
		license := directory.NormalizeLicense(v)
		if directory.CapacityGated(license) {
			out = append(out, softFilter{name: "license_type", match: func(d *directory.MedicalDirector) bool {
				n, _ := d.Capacity(license)
				return n > 0
			}})
		}
	}

	if v := activeValue(f.AgeStyle); v != "" {
		keywords := styleKeywords(v, []styleChoice{
			{"younger", youngerTraits},
			{"older", olderTraits},
			{"experienced", olderTraits},
		})
		out = append(out, softFilter{name: "age_style", match: traitMatcher(keywords)})
	}

	if v := activeValue(f.InteractionStyle); v != "" {
		keywords := styleKeywords(v, []styleChoice{
			{"hands-on", handsOnTraits},
			{"autonomous", autonomousTraits},
		})
		out = append(out, softFilter{name: "interaction_style", match: traitMatcher(keywords)})
	}

	for _, rule := range s.rules {
		if !rule.Applies(p) {
			continue
		}
		out = append(out, softFilter{name: "preference:" + rule.Name, match: func(d *directory.MedicalDirector) bool {
			return !rule.Excludes(d)
		}})
	}

	return out
}

// activeValue returns the lower-cased filter value, or "" when the filter is
// unset or reads as "any".
func activeValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "any" || v == "no preference" {
		return ""
	}
	return v
}

type styleChoice struct {
	key      string
	keywords []string
}

// styleKeywords maps a style choice to trait keywords. A choice naming a
// known style expands to its keyword set; anything else is matched verbatim.
func styleKeywords(choice string, known []styleChoice) []string {
	for _, c := range known {
		if strings.Contains(choice, c.key) {
			return c.keywords
		}
	}
	return []string{choice}
}

func traitMatcher(keywords []string) func(d *directory.MedicalDirector) bool {
	return func(d *directory.MedicalDirector) bool {
		for _, trait := range d.Traits {
			for _, kw := range keywords {
				if containsFold(trait, kw) {
					return true
				}
			}
		}
		return false
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// PreferenceRule soft-excludes directors whose stated preferences rule out
// the provider.
type PreferenceRule struct {
	Name    string
	Pattern *regexp.Regexp
	// Applies reports whether the rule is relevant for the provider.
	Applies func(p *directory.Provider) bool
}

// Excludes reports whether any preference clause of the director matches.
func (r PreferenceRule) Excludes(d *directory.MedicalDirector) bool {
	for _, pref := range d.Preferences {
		if r.Pattern.MatchString(pref) {
			return true
		}
	}
	return false
}

// DefaultPreferenceRules returns the capacity and experience rules.
func DefaultPreferenceRules() []PreferenceRule {
	return []PreferenceRule{
		{
			Name:    "capacity_np",
			Pattern: regexp.MustCompile(`(?i)\b(maxed out|no more|not taking|at capacity)\b.*\bNPs?\b`),
			Applies: licenseIs(directory.LicenseNP),
		},
		{
			Name:    "capacity_rn",
			Pattern: regexp.MustCompile(`(?i)\b(maxed out|no more|not taking|at capacity)\b.*\bRNs?\b`),
			Applies: licenseIs(directory.LicenseRN),
		},
		{
			Name:    "experience_required",
			Pattern: regexp.MustCompile(`(?i)\b\d+\s*(mo|mos|months?|yrs?|years?)\b.*\bexperience\b|\bexperienced only\b|\bonly experienced\b|\bno new grads?\b`),
			Applies: func(p *directory.Provider) bool {
				return newProviderMarker.MatchString(p.ExperienceLevel)
			},
		},
	}
}

func licenseIs(license directory.LicenseType) func(p *directory.Provider) bool {
	return func(p *directory.Provider) bool {
		return directory.NormalizeLicense(string(p.LicenseType)) == license
	}
}
