package filtering

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/directory"
)

// toggle carries the enable/disable state shared by the rules.
type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

type californiaFilter struct {
	toggle
}

// NewCalifornia creates the state licensing rule: a California provider may
// only be supervised by a director residing or licensed in California. It
// never restricts providers from other states.
func NewCalifornia() Filter {
	return &californiaFilter{}
}

func (f *californiaFilter) Name() string { return RuleCalifornia }

func (f *californiaFilter) Apply(_ context.Context, deps Deps, in []*directory.MedicalDirector) ([]*directory.MedicalDirector, Step, error) {
	if directory.NormalizeState(deps.Provider.State) != directory.California {
		return in, Step{Initial: len(in), Left: len(in)}, nil
	}
	out, step := keep(in, func(d *directory.MedicalDirector) bool {
		return d.InState(directory.California)
	})
	if deps.Logger != nil && step.Dropped > 0 {
		deps.Logger.Debug("excluding directors without California coverage",
			zap.Int("dropped", step.Dropped),
		)
	}
	return out, step, nil
}

func (f *californiaFilter) EmptyReason(*directory.Provider) string {
	return "no California directors available"
}

func (f *californiaFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: map[string]string{
		"state": directory.California,
	}}
}

type capacityFilter struct {
	toggle
}

// NewCapacity creates the supervision capacity rule. Only license types with
// a capacity column (NP, RN) are gated.
func NewCapacity() Filter {
	return &capacityFilter{}
}

func (f *capacityFilter) Name() string { return RuleCapacity }

func (f *capacityFilter) Apply(_ context.Context, deps Deps, in []*directory.MedicalDirector) ([]*directory.MedicalDirector, Step, error) {
	license := directory.NormalizeLicense(string(deps.Provider.LicenseType))
	if !directory.CapacityGated(license) {
		return in, Step{Initial: len(in), Left: len(in)}, nil
	}
	out, step := keep(in, func(d *directory.MedicalDirector) bool {
		n, _ := d.Capacity(license)
		return n > 0
	})
	if deps.Logger != nil && step.Dropped > 0 {
		deps.Logger.Debug("excluding directors at capacity",
			zap.String("license_type", string(license)),
			zap.Int("dropped", step.Dropped),
		)
	}
	return out, step, nil
}

func (f *capacityFilter) EmptyReason(p *directory.Provider) string {
	return fmt.Sprintf("no directors with capacity for %s providers", directory.NormalizeLicense(string(p.LicenseType)))
}

func (f *capacityFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: map[string]string{
		"gated_licenses": strings.Join([]string{string(directory.LicenseNP), string(directory.LicenseRN)}, ","),
	}}
}

type midLevelOnlyFilter struct {
	toggle
}

// NewMidLevelOnly creates the rule keeping "Open - Mid Level Only" directors
// away from providers without a mid-level license.
func NewMidLevelOnly() Filter {
	return &midLevelOnlyFilter{}
}

func (f *midLevelOnlyFilter) Name() string { return RuleMidLevelOnly }

func (f *midLevelOnlyFilter) Apply(_ context.Context, deps Deps, in []*directory.MedicalDirector) ([]*directory.MedicalDirector, Step, error) {
	if deps.Provider.IsMidLevel() {
		return in, Step{Initial: len(in), Left: len(in)}, nil
	}
	out, step := keep(in, func(d *directory.MedicalDirector) bool {
		return d.AcceptingStatus != directory.StatusOpenMidLevelOnly
	})
	return out, step, nil
}

func (f *midLevelOnlyFilter) EmptyReason(p *directory.Provider) string {
	license := string(p.LicenseType)
	if license == "" {
		license = "unlicensed"
	}
	return fmt.Sprintf("only mid-level-only directors remain for %s provider", license)
}

func (f *midLevelOnlyFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}
