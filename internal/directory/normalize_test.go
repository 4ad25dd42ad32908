package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCapacity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		np, rn int
	}{
		{name: "np more rn at capacity", input: "Has capacity for 3 more NPs, at capacity for RNs", np: 3, rn: 0},
		{name: "both at capacity", input: "At capacity for both NPs and RNs", np: 0, rn: 0},
		{name: "both available", input: "Has capacity for 2 more NPs, 3 more RNs", np: 2, rn: 3},
		{name: "np at capacity", input: "At capacity for NPs, has capacity for 2 more RNs", np: 0, rn: 2},
		{name: "singular", input: "Has capacity for 1 more NP, at capacity for RNs", np: 1, rn: 0},
		{name: "case insensitive", input: "has capacity for 4 MORE nps", np: 4, rn: 0},
		{name: "empty", input: "", np: 0, rn: 0},
		{name: "unrelated text", input: "call before assigning", np: 0, rn: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			np, rn := ParseCapacity(tt.input)
			assert.Equal(t, tt.np, np, "np capacity")
			assert.Equal(t, tt.rn, rn, "rn capacity")
		})
	}
}

func TestCapacityStatusRendersBothClauses(t *testing.T) {
	assert.Equal(t, "Has capacity for 2 more NPs, At capacity for RNs", CapacityStatus(2, 0))
	assert.Equal(t, "At capacity for NPs, Has capacity for 1 more RNs", CapacityStatus(0, 1))

	np, rn := ParseCapacity(CapacityStatus(5, 7))
	assert.Equal(t, 5, np)
	assert.Equal(t, 7, rn)
}

func TestNormalizeDirector(t *testing.T) {
	row := Row{
		"first_name":         "Dr. Jane",
		"last_name":          "Doe",
		"email":              " Jane.Doe@Example.com ",
		"residing_state":     "California; NV, tx",
		"accepted_services":  "Botox, Filler",
		"accepting_status":   "Open - Mid Level Only",
		"capacity_status":    "Has capacity for 2 more NPs, at capacity for RNs",
		"personality_traits": "hands-on, collaborative ,",
		"md_preferences":     "Prefers experienced NPs. No weekend calls; needs 6mo experience",
	}

	d := NormalizeDirector(row, DefaultDirectorColumns())

	assert.Equal(t, "Jane Doe", d.Name)
	assert.Equal(t, "jane.doe@example.com", d.Email)
	assert.Equal(t, []string{"CA", "NV", "TX"}, d.ResidingStates)
	assert.Equal(t, []string{"Botox", "Filler"}, d.AcceptedServices)
	assert.Equal(t, StatusOpenMidLevelOnly, d.AcceptingStatus)
	assert.Equal(t, 2, d.NPCapacity)
	assert.Equal(t, 0, d.RNCapacity)
	assert.Equal(t, []string{"hands-on", "collaborative"}, d.Traits)
	assert.Equal(t, []string{"Prefers experienced NPs", "No weekend calls", "needs 6mo experience"}, d.Preferences)
	assert.True(t, d.InState("ca"))
	assert.True(t, d.InState("Texas"))
	assert.False(t, d.InState("FL"))
}

func TestNormalizeDirectorMissingFieldsUseDefaults(t *testing.T) {
	d := NormalizeDirector(Row{"full_name": "Sam Lee"}, DefaultDirectorColumns())

	require.NotNil(t, d)
	assert.Equal(t, "Sam Lee", d.Name)
	assert.Empty(t, d.ResidingStates)
	assert.Empty(t, d.Traits)
	assert.Empty(t, d.Preferences)
	assert.Zero(t, d.NPCapacity)
	assert.Zero(t, d.RNCapacity)
	assert.Equal(t, StatusUnknown, d.AcceptingStatus)
}

func TestNormalizeDirectorNumericCapacityOverridesSentence(t *testing.T) {
	row := Row{
		"full_name":       "Ann Ko",
		"capacity_status": "At capacity for NPs",
		"np_capacity":     "3",
		"rn_capacity":     "-2",
	}

	d := NormalizeDirector(row, DefaultDirectorColumns())

	assert.Equal(t, 3, d.NPCapacity)
	assert.Equal(t, 0, d.RNCapacity)
}

func TestNormalizeDirectorIgnoresUnreadableCapacityNumbers(t *testing.T) {
	row := Row{
		"full_name":       "Ann Ko",
		"capacity_status": "Has capacity for 2 more NPs, 1 more RNs",
		"np_capacity":     "1e30",
		"rn_capacity":     "inf",
	}

	d := NormalizeDirector(row, DefaultDirectorColumns())
	assert.Equal(t, 2, d.NPCapacity)
	assert.Equal(t, 1, d.RNCapacity)

	row["np_capacity"], row["rn_capacity"] = "NaN", "-Inf"
	d = NormalizeDirector(row, DefaultDirectorColumns())
	assert.Equal(t, 2, d.NPCapacity)
	assert.Equal(t, 1, d.RNCapacity)

	np, rn := ParseCapacity("Has capacity for 99999999999999999999 more NPs, 3 more RNs")
	assert.Zero(t, np)
	assert.Equal(t, 3, rn)
}

func TestProviderNormalized(t *testing.T) {
	p := &Provider{Name: "Inline", Email: " Nora@Example.com ", State: "california", LicenseType: "np"}

	n := p.Normalized()
	assert.Equal(t, "nora@example.com", n.Email)
	assert.Equal(t, "CA", n.State)
	assert.Equal(t, LicenseNP, n.LicenseType)
	assert.Equal(t, "np", n.RawLicense)
	assert.True(t, n.IsMidLevel())
	assert.Equal(t, "california", p.State, "the input is not modified")
}

func TestNormalizeProvider(t *testing.T) {
	row := Row{
		"subject":                   "  Ticket 42  ",
		"provider_email":            "Nurse@Example.com",
		"provider_license_type":     "Nurse Practitioner",
		"provider_state":            "California",
		"provider_experience_level": "n/a",
		"provider_services":         "NA",
		"provider_future_services":  "",
	}

	p := NormalizeProvider(row, DefaultProviderColumns(), "Unknown")

	assert.Equal(t, "Ticket 42", p.Name)
	assert.Equal(t, "nurse@example.com", p.Email)
	assert.Equal(t, LicenseNP, p.LicenseType)
	assert.Equal(t, "CA", p.State)
	assert.Equal(t, "Unknown", p.ExperienceLevel)
	assert.Equal(t, "Unknown", p.Services)
	assert.Equal(t, "", p.FutureServices)
	assert.Equal(t, "nurse@example.com", p.Key())
}

func TestNormalizeProviderAbsentStateIsEmpty(t *testing.T) {
	p := NormalizeProvider(Row{"subject": "T1", "provider_state": "N/A"}, DefaultProviderColumns(), "Unknown")
	assert.Equal(t, "", p.State)
	assert.Equal(t, "T1", p.Key())
}

func TestCleanValue(t *testing.T) {
	for _, v := range []string{"", "  ", "n/a", "N/A", "na", "NA"} {
		assert.Equal(t, "fallback", CleanValue(v, "fallback"), "value %q", v)
	}
	assert.Equal(t, "Botox", CleanValue("  Botox ", "fallback"))
}

func TestStripTitle(t *testing.T) {
	assert.Equal(t, "John", StripTitle("Dr. John"))
	assert.Equal(t, "John", StripTitle("dr John"))
	assert.Equal(t, "Drew", StripTitle("Drew"))
}

func TestNormalizeLicense(t *testing.T) {
	assert.Equal(t, LicenseNP, NormalizeLicense(" np "))
	assert.Equal(t, LicenseRN, NormalizeLicense("Registered Nurse"))
	assert.Equal(t, LicensePA, NormalizeLicense("PA-C"))
	assert.Equal(t, LicenseType("RN/NP"), NormalizeLicense("rn/np"))
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusOpen, NormalizeStatus("Open"))
	assert.Equal(t, StatusOpenMidLevelOnly, NormalizeStatus("Open - Mid Level Only"))
	assert.Equal(t, StatusOpenMidLevelOnly, NormalizeStatus("Open-MidLevelOnly"))
	assert.Equal(t, StatusClosed, NormalizeStatus("closed"))
	assert.Equal(t, StatusUnknown, NormalizeStatus(" "))
	assert.Equal(t, AcceptingStatus("Paused"), NormalizeStatus("Paused"))
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, "CA", NormalizeState("california"))
	assert.Equal(t, "CA", NormalizeState("ca"))
	assert.Equal(t, "NY", NormalizeState(" New York "))
	assert.Equal(t, "", NormalizeState("Unknown"))
	assert.Equal(t, "", NormalizeState("Atlantis"))
}
