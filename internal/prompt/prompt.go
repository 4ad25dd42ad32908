// Package prompt turns a provider and a director shortlist into the text
// request sent to the completion service.
package prompt

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spigell/md-matcher/internal/directory"
	"github.com/spigell/md-matcher/internal/selection"
)

//go:embed prompt.md
var defaultTemplate string

const (
	placeholderProvider    = "{{PROVIDER}}"
	placeholderConstraints = "{{CONSTRAINTS}}"
	placeholderFilters     = "{{FILTERS}}"
	placeholderDirectors   = "{{DIRECTORS}}"
	placeholderCount       = "{{DIRECTOR_COUNT}}"
	placeholderSchema      = "{{OUTPUT_SCHEMA}}"

	maxRequirementRunes = 600
	noneValue           = "none"
)

// SystemInstruction is sent alongside every prompt.
const SystemInstruction = "You are a medical staffing expert. You match nurses, nurse practitioners and physician assistants " +
	"with supervising medical directors based on location, experience, services offered, personality traits and other " +
	"relevant factors. You always honor state licensing requirements (especially California) and capacity limits. " +
	"You always respond with JSON in the exact format requested."

// OutputSchema is the response contract every prompt ends with. Field names
// are shared with the response validator.
const OutputSchema = `Respond with JSON only, using exactly this structure:
{
  "matches": [
    {
      "name": "Director full name (string, required)",
      "email": "director@example.com (string, required)",
      "match_score": 8.5,
      "reasoning": "Why this is a good match, referencing capacity, state requirements and personality fit (string, required)",
      "capacity_status": "Has capacity for N more NPs (string, optional)"
    }
  ]
}
match_score is a number from 0 to 10. Only include directors from the list above. Do not add any text outside the JSON.`

// AssemblyError reports a request that cannot produce a well-formed prompt.
type AssemblyError struct {
	Field string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble prompt: missing %s", e.Field)
}

// Request is everything that goes into a prompt.
type Request struct {
	Provider  *directory.Provider
	Directors []*directory.MedicalDirector
	Filters   selection.Filters
}

// Assembler renders prompts from a template.
type Assembler struct {
	template string
}

// New returns an Assembler for the template. An empty template selects the
// built-in one.
func New(template string) *Assembler {
	if strings.TrimSpace(template) == "" {
		template = defaultTemplate
	}
	return &Assembler{template: template}
}

// Assemble renders the prompt with the built-in template.
func Assemble(req Request) (string, error) {
	return New("").Assemble(req)
}

// Assemble renders the prompt. Output is deterministic for identical input.
// The output schema block is always present, even when a custom template
// forgets its placeholder.
func (a *Assembler) Assemble(req Request) (string, error) {
	p := req.Provider
	if p == nil || (strings.TrimSpace(p.Name) == "" && strings.TrimSpace(p.Email) == "") {
		return "", &AssemblyError{Field: "provider name or email"}
	}
	if len(req.Directors) == 0 {
		return "", &AssemblyError{Field: "directors"}
	}

	out := a.template
	if !strings.Contains(out, placeholderSchema) {
		out = strings.TrimRight(out, "\n") + "\n\n" + placeholderSchema + "\n"
	}

	replacer := strings.NewReplacer(
		placeholderProvider, providerBlock(p),
		placeholderConstraints, constraintsBlock(p),
		placeholderFilters, filtersBlock(req.Filters),
		placeholderCount, strconv.Itoa(len(req.Directors)),
		placeholderDirectors, directorsBlock(req.Directors, p),
		placeholderSchema, OutputSchema,
	)
	return replacer.Replace(out), nil
}

func providerBlock(p *directory.Provider) string {
	var b strings.Builder
	line(&b, "Name", orDefault(p.Name, "Unknown"))
	line(&b, "Email", orDefault(p.Email, "No email"))
	line(&b, "License Type", orDefault(string(p.LicenseType), "Unknown"))
	line(&b, "Experience Level", orDefault(p.ExperienceLevel, "Unknown"))
	line(&b, "State", orDefault(p.State, "Unknown"))
	line(&b, "Services", orDefault(p.Services, "None specified"))
	optionalLine(&b, "Future Services", p.FutureServices)
	optionalLine(&b, "Additional Notes", p.Notes)
	optionalLine(&b, "Director Location Preference", p.LocationPreference)
	return strings.TrimRight(b.String(), "\n")
}

func constraintsBlock(p *directory.Provider) string {
	lines := []string{
		"- California: providers in California can ONLY be matched with directors residing or licensed in California.",
		"- Other states: prefer same-state directors; other states are acceptable when the location preference allows it.",
		"- Capacity: never match a director who is at capacity for the provider's license type (RN or NP).",
	}
	if p.State == directory.California {
		lines = append(lines, "- This provider is in California: every match MUST cover California.")
	}
	if directory.CapacityGated(p.LicenseType) {
		lines = append(lines, fmt.Sprintf("- This provider holds an %s license: every match MUST have %s capacity left.", p.LicenseType, p.LicenseType))
	}
	if !p.IsMidLevel() {
		lines = append(lines, "- Directors open to mid-level providers only must not be matched with this provider.")
	}
	return strings.Join(lines, "\n")
}

func filtersBlock(f selection.Filters) string {
	var b strings.Builder
	switch f.Policy() {
	case selection.SameStateOnly:
		b.WriteString("- Location: only directors in the same state as the provider.\n")
	case selection.AnyLocation:
		b.WriteString("- Location: same-state first, any location acceptable except for California providers.\n")
	default:
		b.WriteString("- Location: same-state first, nearby states acceptable except for California providers.\n")
	}
	optionalLine(&b, "Director experience", sanitizeLine(f.Experience))
	optionalLine(&b, "License type focus", sanitizeLine(f.License))
	optionalLine(&b, "Director age/style", activeFilter(f.AgeStyle))
	optionalLine(&b, "Interaction style", activeFilter(f.InteractionStyle))
	b.WriteString("- Additional requirements:\n")
	b.WriteString(requirementsBlock(f.Requirements))
	return b.String()
}

func directorsBlock(directors []*directory.MedicalDirector, p *directory.Provider) string {
	blocks := make([]string, 0, len(directors))
	for i, d := range directors {
		var b strings.Builder
		fmt.Fprintf(&b, "Director %d:\n", i+1)
		line(&b, "Name", d.Name)
		line(&b, "Email", orDefault(d.Email, "Unknown"))
		line(&b, "State(s)", orDefault(strings.Join(d.States(), ", "), "Unknown"))
		switch p.LicenseType {
		case directory.LicenseNP:
			line(&b, "NP Capacity", strconv.Itoa(d.NPCapacity))
		case directory.LicenseRN:
			line(&b, "RN Capacity", strconv.Itoa(d.RNCapacity))
		}
		line(&b, "Capacity Status", d.CapacityStatus())
		if d.AcceptingStatus == directory.StatusOpenMidLevelOnly {
			line(&b, "Accepting", "mid-level providers only")
		}
		optionalLine(&b, "Experience", d.ExperienceLevel)
		optionalLine(&b, "Services", strings.Join(d.AcceptedServices, ", "))
		optionalLine(&b, "Personality", strings.Join(d.Traits, ", "))
		optionalLine(&b, "Preferences", strings.Join(d.Preferences, "; "))
		optionalLine(&b, "Bio", sanitizeLine(d.Bio))
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func line(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

func optionalLine(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	line(b, label, value)
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

func activeFilter(value string) string {
	value = sanitizeLine(value)
	if strings.EqualFold(value, "any") {
		return ""
	}
	return value
}

// sanitizeLine collapses whitespace into single spaces and swaps square
// brackets for parentheses so user text cannot pose as a section marker.
func sanitizeLine(value string) string {
	value = strings.NewReplacer("[", "(", "]", ")", "{{", "{", "}}", "}").Replace(value)
	return strings.Join(strings.Fields(value), " ")
}

// requirementsBlock renders free text requirements as an indented list,
// one item per non-empty line, truncated to maxRequirementRunes.
func requirementsBlock(value string) string {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) > maxRequirementRunes {
		value = string([]rune(value)[:maxRequirementRunes])
	}
	var items []string
	for _, l := range strings.Split(value, "\n") {
		if l = sanitizeLine(l); l != "" {
			items = append(items, "  - "+l)
		}
	}
	if len(items) == 0 {
		return "  - " + noneValue
	}
	return strings.Join(items, "\n")
}
