package directory

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Row is a raw tabular record keyed by source column name.
type Row map[string]string

// Get returns the trimmed value of the column, or "" when the column is
// unset or missing.
func (r Row) Get(column string) string {
	if column == "" || r == nil {
		return ""
	}
	return strings.TrimSpace(r[column])
}

// DirectorColumns maps director fields to source column names. Empty names
// mean the source does not carry the field.
type DirectorColumns struct {
	FirstName        string `mapstructure:"first-name"`
	LastName         string `mapstructure:"last-name"`
	FullName         string `mapstructure:"full-name"`
	Email            string `mapstructure:"email"`
	ResidingStates   string `mapstructure:"residing-states"`
	LicensedStates   string `mapstructure:"licensed-states"`
	AcceptedServices string `mapstructure:"accepted-services"`
	ExperienceLevel  string `mapstructure:"experience-level"`
	AcceptingStatus  string `mapstructure:"accepting-status"`
	CapacityStatus   string `mapstructure:"capacity-status"`
	NPCapacity       string `mapstructure:"np-capacity"`
	RNCapacity       string `mapstructure:"rn-capacity"`
	Traits           string `mapstructure:"personality-traits"`
	Preferences      string `mapstructure:"preferences"`
	Bio              string `mapstructure:"bio"`
}

// ProviderColumns maps provider fields to source column names.
type ProviderColumns struct {
	Name               string `mapstructure:"name"`
	Email              string `mapstructure:"email"`
	LicenseType        string `mapstructure:"license-type"`
	State              string `mapstructure:"state"`
	ExperienceLevel    string `mapstructure:"experience-level"`
	Services           string `mapstructure:"services"`
	FutureServices     string `mapstructure:"future-services"`
	Notes              string `mapstructure:"notes"`
	LocationPreference string `mapstructure:"location-preference"`
	TicketStatus       string `mapstructure:"ticket-status"`
	TicketPriority     string `mapstructure:"ticket-priority"`
	KickOffDate        string `mapstructure:"kick-off-date"`
}

// DefaultDirectorColumns matches the lower-cased contacts mart columns.
func DefaultDirectorColumns() DirectorColumns {
	return DirectorColumns{
		FirstName:        "first_name",
		LastName:         "last_name",
		FullName:         "full_name",
		Email:            "email",
		ResidingStates:   "residing_state",
		LicensedStates:   "licensed_states",
		AcceptedServices: "accepted_services",
		ExperienceLevel:  "experience_level",
		AcceptingStatus:  "accepting_status",
		CapacityStatus:   "capacity_status",
		NPCapacity:       "np_capacity",
		RNCapacity:       "rn_capacity",
		Traits:           "personality_traits",
		Preferences:      "md_preferences",
		Bio:              "md_bio",
	}
}

// DefaultProviderColumns matches the lower-cased tickets mart columns.
func DefaultProviderColumns() ProviderColumns {
	return ProviderColumns{
		Name:               "subject",
		Email:              "provider_email",
		LicenseType:        "provider_license_type",
		State:              "provider_state",
		ExperienceLevel:    "provider_experience_level",
		Services:           "provider_services",
		FutureServices:     "provider_future_services",
		Notes:              "provider_additional_services",
		LocationPreference: "provider_md_location_preference",
		TicketStatus:       "ticket_status",
		TicketPriority:     "ticket_priority",
		KickOffDate:        "kick_off_date",
	}
}

var (
	listSeparators       = regexp.MustCompile(`[;,]`)
	preferenceSeparators = regexp.MustCompile(`[.;]`)
	nonLetters           = regexp.MustCompile(`[^a-z]+`)
)

// NormalizeDirector builds a MedicalDirector from a raw row. Missing optional
// fields become empty collections or zero; it never fails.
func NormalizeDirector(row Row, cols DirectorColumns) *MedicalDirector {
	d := &MedicalDirector{
		Name:             directorName(row, cols),
		Email:            strings.ToLower(row.Get(cols.Email)),
		ResidingStates:   SplitStates(row.Get(cols.ResidingStates)),
		LicensedStates:   SplitStates(row.Get(cols.LicensedStates)),
		AcceptedServices: SplitList(row.Get(cols.AcceptedServices)),
		ExperienceLevel:  CleanValue(row.Get(cols.ExperienceLevel), ""),
		RawStatus:        row.Get(cols.AcceptingStatus),
		Traits:           SplitList(row.Get(cols.Traits)),
		Preferences:      SplitPreferences(row.Get(cols.Preferences)),
		Bio:              CleanValue(row.Get(cols.Bio), ""),
	}
	d.AcceptingStatus = NormalizeStatus(d.RawStatus)

	d.NPCapacity, d.RNCapacity = ParseCapacity(row.Get(cols.CapacityStatus))
	if n, ok := parseCount(row.Get(cols.NPCapacity)); ok {
		d.NPCapacity = n
	}
	if n, ok := parseCount(row.Get(cols.RNCapacity)); ok {
		d.RNCapacity = n
	}

	d.capacityKnown = row.Get(cols.CapacityStatus) != "" || row.Get(cols.NPCapacity) != "" || row.Get(cols.RNCapacity) != ""

	return d
}

func directorName(row Row, cols DirectorColumns) string {
	if full := row.Get(cols.FullName); full != "" {
		return StripTitle(full)
	}
	first := StripTitle(row.Get(cols.FirstName))
	return strings.TrimSpace(first + " " + row.Get(cols.LastName))
}

// NormalizeProvider builds a Provider from a raw row. Values reading as
// "n/a", "na" or empty are replaced by def.
func NormalizeProvider(row Row, cols ProviderColumns, def string) *Provider {
	raw := CleanValue(row.Get(cols.LicenseType), def)
	return &Provider{
		Name:               CleanValue(row.Get(cols.Name), def),
		Email:              strings.ToLower(CleanValue(row.Get(cols.Email), "")),
		LicenseType:        NormalizeLicense(raw),
		RawLicense:         raw,
		State:              NormalizeState(row.Get(cols.State)),
		ExperienceLevel:    CleanValue(row.Get(cols.ExperienceLevel), def),
		Services:           CleanValue(row.Get(cols.Services), def),
		FutureServices:     CleanValue(row.Get(cols.FutureServices), ""),
		Notes:              CleanValue(row.Get(cols.Notes), ""),
		LocationPreference: CleanValue(row.Get(cols.LocationPreference), ""),
		TicketStatus:       CleanValue(row.Get(cols.TicketStatus), ""),
		TicketPriority:     CleanValue(row.Get(cols.TicketPriority), ""),
		KickOffDate:        CleanValue(row.Get(cols.KickOffDate), ""),
	}
}

// Normalized returns a copy of p with email, state and license type in the
// form NormalizeProvider produces. Providers supplied inline by callers go
// through it before matching.
func (p *Provider) Normalized() *Provider {
	c := *p
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.State = NormalizeState(c.State)
	if c.RawLicense == "" {
		c.RawLicense = strings.TrimSpace(string(c.LicenseType))
	}
	c.LicenseType = NormalizeLicense(string(c.LicenseType))
	return &c
}

// CleanValue trims the value and substitutes def for the unknown markers.
func CleanValue(value, def string) string {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "", "n/a", "na", "nan", "null":
		return def
	}
	return value
}

// StripTitle removes a leading "Dr. " honorific.
func StripTitle(name string) string {
	name = strings.TrimSpace(name)
	for _, prefix := range []string{"Dr. ", "Dr "} {
		if len(name) > len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			return strings.TrimSpace(name[len(prefix):])
		}
	}
	return name
}

// SplitStates splits a multi-state field on "," and ";" into postal codes.
// Values that are not recognisable states are kept upper-cased.
func SplitStates(value string) []string {
	states := make([]string, 0)
	for _, part := range listSeparators.Split(value, -1) {
		part = CleanValue(part, "")
		if part == "" {
			continue
		}
		code := NormalizeState(part)
		if code == "" {
			code = strings.ToUpper(part)
		}
		if !slices.Contains(states, code) {
			states = append(states, code)
		}
	}
	return states
}

// SplitList splits a comma separated field, dropping empty items.
func SplitList(value string) []string {
	items := make([]string, 0)
	if CleanValue(value, "") == "" {
		return items
	}
	for _, part := range listSeparators.Split(value, -1) {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// SplitPreferences splits free text preferences into clauses on "." and ";".
func SplitPreferences(value string) []string {
	prefs := make([]string, 0)
	if CleanValue(value, "") == "" {
		return prefs
	}
	for _, part := range preferenceSeparators.Split(value, -1) {
		if part = strings.TrimSpace(part); part != "" {
			prefs = append(prefs, part)
		}
	}
	return prefs
}

// NormalizeLicense maps free text license types to the known constants.
// Unknown values are returned upper-cased and trimmed.
func NormalizeLicense(value string) LicenseType {
	v := strings.ToUpper(strings.TrimSpace(value))
	switch v {
	case "NP", "NURSE PRACTITIONER", "APRN", "FNP":
		return LicenseNP
	case "RN", "REGISTERED NURSE":
		return LicenseRN
	case "PA", "PA-C", "PHYSICIAN ASSISTANT":
		return LicensePA
	}
	return LicenseType(v)
}

// NormalizeStatus maps the free text accepting status onto the known values.
func NormalizeStatus(value string) AcceptingStatus {
	key := nonLetters.ReplaceAllString(strings.ToLower(value), "")
	switch {
	case key == "":
		return StatusUnknown
	case key == "open":
		return StatusOpen
	case strings.HasPrefix(key, "open") && strings.Contains(key, "midlevel"):
		return StatusOpenMidLevelOnly
	case strings.HasPrefix(key, "closed"):
		return StatusClosed
	}
	return AcceptingStatus(strings.TrimSpace(value))
}

var (
	atCapacityPattern = map[LicenseType]*regexp.Regexp{
		LicenseNP: regexp.MustCompile(`(?i)at capacity for NPs\b`),
		LicenseRN: regexp.MustCompile(`(?i)at capacity for RNs\b`),
	}
	moreCapacityPattern = map[LicenseType]*regexp.Regexp{
		LicenseNP: regexp.MustCompile(`(?i)(\d+)\s+more\s+NPs?\b`),
		LicenseRN: regexp.MustCompile(`(?i)(\d+)\s+more\s+RNs?\b`),
	}
)

// ParseCapacity reads NP and RN capacity out of a capacity sentence such as
// "Has capacity for 3 more NPs, at capacity for RNs". Anything it cannot
// read counts as zero.
func ParseCapacity(text string) (np, rn int) {
	return parseLicenseCapacity(text, LicenseNP), parseLicenseCapacity(text, LicenseRN)
}

func parseLicenseCapacity(text string, license LicenseType) int {
	if text == "" {
		return 0
	}
	if atCapacityPattern[license].MatchString(text) {
		return 0
	}
	m := moreCapacityPattern[license].FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 || n > maxCapacity {
		return 0
	}
	return n
}

// maxCapacity bounds parsed capacity counts; larger values are treated as
// unreadable.
const maxCapacity = math.MaxInt32

// CapacityStatus renders NP and RN capacity back into a sentence.
func CapacityStatus(np, rn int) string {
	return capacityClause(np, LicenseNP) + ", " + capacityClause(rn, LicenseRN)
}

func capacityClause(n int, license LicenseType) string {
	if n > 0 {
		return fmt.Sprintf("Has capacity for %d more %ss", n, license)
	}
	return fmt.Sprintf("At capacity for %ss", license)
}

func parseCount(value string) (int, bool) {
	value = CleanValue(value, "")
	if value == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > maxCapacity {
		return 0, false
	}
	if f < 0 {
		return 0, true
	}
	return int(f), true
}
