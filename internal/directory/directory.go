// Package directory holds the normalized medical director and provider records
// the matcher works on, together with the normalizers that build them from raw
// tabular rows.
package directory

import (
	"fmt"
	"slices"
	"strings"
)

// LicenseType is the normalized license of a provider.
type LicenseType string

const (
	LicenseNP LicenseType = "NP"
	LicenseRN LicenseType = "RN"
	LicensePA LicenseType = "PA"
)

// CapacityGated reports whether directors track supervision capacity for the
// license type.
func CapacityGated(license LicenseType) bool {
	return license == LicenseNP || license == LicenseRN
}

// AcceptingStatus is the normalized accepting status of a medical director.
type AcceptingStatus string

const (
	StatusOpen             AcceptingStatus = "Open"
	StatusOpenMidLevelOnly AcceptingStatus = "Open-MidLevelOnly"
	StatusClosed           AcceptingStatus = "Closed"
	StatusUnknown          AcceptingStatus = ""
)

// MedicalDirector is a supervising physician. Records are built once at load
// time and never mutated afterwards.
type MedicalDirector struct {
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	ResidingStates   []string        `json:"residing_states"`
	LicensedStates   []string        `json:"licensed_states,omitempty"`
	AcceptedServices []string        `json:"accepted_services,omitempty"`
	ExperienceLevel  string          `json:"experience_level,omitempty"`
	AcceptingStatus  AcceptingStatus `json:"accepting_status"`
	RawStatus        string          `json:"raw_status,omitempty"`
	NPCapacity       int             `json:"np_capacity"`
	RNCapacity       int             `json:"rn_capacity"`
	Traits           []string        `json:"personality_traits,omitempty"`
	Preferences      []string        `json:"preferences,omitempty"`
	Bio              string          `json:"bio,omitempty"`

	capacityKnown bool
}

// States returns the union of residing and licensed states in source order.
func (d *MedicalDirector) States() []string {
	states := make([]string, 0, len(d.ResidingStates)+len(d.LicensedStates))
	for _, s := range d.ResidingStates {
		if !slices.Contains(states, s) {
			states = append(states, s)
		}
	}
	for _, s := range d.LicensedStates {
		if !slices.Contains(states, s) {
			states = append(states, s)
		}
	}
	return states
}

// InState reports whether the director resides or is licensed in the state.
func (d *MedicalDirector) InState(state string) bool {
	code := NormalizeState(state)
	if code == "" {
		return false
	}
	return slices.Contains(d.ResidingStates, code) || slices.Contains(d.LicensedStates, code)
}

// Capacity returns the remaining capacity for the license type. The second
// value is false when the license type is not capacity gated.
func (d *MedicalDirector) Capacity(license LicenseType) (int, bool) {
	switch license {
	case LicenseNP:
		return d.NPCapacity, true
	case LicenseRN:
		return d.RNCapacity, true
	default:
		return 0, false
	}
}

// CapacityStatus renders the capacity snapshot as a sentence.
func (d *MedicalDirector) CapacityStatus() string {
	return CapacityStatus(d.NPCapacity, d.RNCapacity)
}

// Key is the matching key of the director: email when present, name otherwise.
func (d *MedicalDirector) Key() string {
	if d.Email != "" {
		return strings.ToLower(d.Email)
	}
	return strings.ToLower(d.Name)
}

// Provider is the nurse, NP or PA being matched.
type Provider struct {
	Name               string      `json:"name"`
	Email              string      `json:"email"`
	LicenseType        LicenseType `json:"license_type"`
	RawLicense         string      `json:"raw_license,omitempty"`
	State              string      `json:"state"`
	ExperienceLevel    string      `json:"experience_level"`
	Services           string      `json:"services_provided"`
	FutureServices     string      `json:"future_services,omitempty"`
	Notes              string      `json:"additional_notes,omitempty"`
	LocationPreference string      `json:"md_location_preference,omitempty"`
	TicketStatus       string      `json:"ticket_status,omitempty"`
	TicketPriority     string      `json:"ticket_priority,omitempty"`
	KickOffDate        string      `json:"kick_off_date,omitempty"`
}

// Key is the preferred identity of the provider: email, then name.
func (p *Provider) Key() string {
	if p.Email != "" {
		return p.Email
	}
	return p.Name
}

// IsMidLevel reports whether the provider holds a mid-level license.
func (p *Provider) IsMidLevel() bool {
	license := NormalizeLicense(string(p.LicenseType))
	return license == LicenseNP || license == LicensePA
}

func (p *Provider) String() string {
	return fmt.Sprintf("%s <%s> %s/%s", p.Name, p.Email, p.LicenseType, p.State)
}
