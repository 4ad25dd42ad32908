package directory

import (
	"slices"
	"strings"
)

// MatchKind describes how a primary record was joined to its metadata.
type MatchKind string

const (
	MatchNone      MatchKind = "none"
	MatchEmail     MatchKind = "email"
	MatchExactName MatchKind = "exact_name"
	MatchNameLike  MatchKind = "name_substring"
)

// MergeReport summarises a metadata join.
type MergeReport struct {
	Matches   map[MatchKind]int
	Ambiguous []string
	Skipped   int
}

// MergeMetadata left-joins primary directors with auxiliary metadata records.
// Rows are matched by email first; rows without an email match fall back to a
// case-insensitive substring match of the full name. When several metadata
// names contain the primary name, an exact name wins, then the shortest
// containing name, then the first in source order. The input records are not
// modified: merged directors are fresh copies.
func MergeMetadata(primary, metadata []*MedicalDirector) ([]*MedicalDirector, MergeReport) {
	report := MergeReport{Matches: make(map[MatchKind]int)}

	candidates := make([]*MedicalDirector, 0, len(metadata))
	byEmail := make(map[string]*MedicalDirector, len(metadata))
	for _, m := range metadata {
		if m == nil {
			continue
		}
		if HasNurseCredential(m.Name) {
			report.Skipped++
			continue
		}
		candidates = append(candidates, m)
		if m.Email != "" {
			if _, dup := byEmail[m.Email]; !dup {
				byEmail[m.Email] = m
			}
		}
	}

	merged := make([]*MedicalDirector, 0, len(primary))
	for _, p := range primary {
		if p == nil {
			continue
		}
		out := p.clone()

		meta, kind := byEmail[strings.ToLower(p.Email)], MatchEmail
		if p.Email == "" || meta == nil {
			var ambiguous bool
			meta, kind, ambiguous = matchByName(p.Name, candidates)
			if ambiguous {
				report.Ambiguous = append(report.Ambiguous, p.Name)
			}
		}

		report.Matches[kind]++
		if meta != nil {
			out.fillFrom(meta)
		}
		merged = append(merged, out)
	}

	return merged, report
}

func matchByName(name string, candidates []*MedicalDirector) (*MedicalDirector, MatchKind, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, MatchNone, false
	}

	var best *MedicalDirector
	found := 0
	for _, c := range candidates {
		hay := strings.ToLower(c.Name)
		if hay == needle {
			return c, MatchExactName, false
		}
		if !strings.Contains(hay, needle) {
			continue
		}
		found++
		if best == nil || len(c.Name) < len(best.Name) {
			best = c
		}
	}

	if best == nil {
		return nil, MatchNone, false
	}
	return best, MatchNameLike, found > 1
}

// HasNurseCredential reports whether a name carries an NP credential token,
// which marks metadata rows describing providers rather than directors.
func HasNurseCredential(name string) bool {
	fields := strings.FieldsFunc(strings.ToUpper(name), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.'
	})
	for _, f := range fields {
		switch strings.TrimSuffix(f, "-C") {
		case "NP", "FNP", "APRN", "ANP":
			return true
		}
	}
	return false
}

func (d *MedicalDirector) clone() *MedicalDirector {
	c := *d
	c.ResidingStates = slices.Clone(d.ResidingStates)
	c.LicensedStates = slices.Clone(d.LicensedStates)
	c.AcceptedServices = slices.Clone(d.AcceptedServices)
	c.Traits = slices.Clone(d.Traits)
	c.Preferences = slices.Clone(d.Preferences)
	return &c
}

func (d *MedicalDirector) fillFrom(meta *MedicalDirector) {
	if len(meta.ResidingStates) > 0 {
		d.ResidingStates = slices.Clone(meta.ResidingStates)
	}
	if len(d.LicensedStates) == 0 {
		d.LicensedStates = slices.Clone(meta.LicensedStates)
	}
	if len(d.AcceptedServices) == 0 {
		d.AcceptedServices = slices.Clone(meta.AcceptedServices)
	}
	if len(d.Traits) == 0 {
		d.Traits = slices.Clone(meta.Traits)
	}
	if len(d.Preferences) == 0 {
		d.Preferences = slices.Clone(meta.Preferences)
	}
	if d.ExperienceLevel == "" {
		d.ExperienceLevel = meta.ExperienceLevel
	}
	if d.Bio == "" {
		d.Bio = meta.Bio
	}
	if !d.capacityKnown && meta.capacityKnown {
		d.NPCapacity = meta.NPCapacity
		d.RNCapacity = meta.RNCapacity
		d.capacityKnown = true
	}
	if d.AcceptingStatus == StatusUnknown && meta.AcceptingStatus != StatusUnknown {
		d.AcceptingStatus = meta.AcceptingStatus
		d.RawStatus = meta.RawStatus
	}
}
