// Package response validates the completion service output against the
// match schema and the shortlist that was sent.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/spigell/md-matcher/internal/directory"
)

// State is the validator state a response ended in.
type State string

const (
	StateReceivedRaw State = "received_raw"
	StateCleaned     State = "cleaned"
	StateParsed      State = "parsed"
	StateParseFailed State = "parse_failed"
	StateValidated   State = "validated"
)

// Band buckets match scores.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// BandFor returns high for scores of 8 and above, medium from 6, low otherwise.
func BandFor(score float64) Band {
	switch {
	case score >= 8:
		return BandHigh
	case score >= 6:
		return BandMedium
	default:
		return BandLow
	}
}

const envelopeSchema = `{
  "type": "object",
  "required": ["matches"],
  "properties": {
    "matches": {"type": "array"}
  }
}`

var envelopeLoader = gojsonschema.NewStringLoader(envelopeSchema)

// Entry is one validated match.
type Entry struct {
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Score          float64 `json:"match_score"`
	Reasoning      string  `json:"reasoning"`
	CapacityStatus string  `json:"capacity_status,omitempty"`
	Band           Band    `json:"band"`
	// Verified is false when the entry names a director that was not in the
	// shortlist.
	Verified bool   `json:"verified"`
	Warning  string `json:"warning,omitempty"`

	Director *directory.MedicalDirector `json:"-"`
}

// Result is the outcome of a successful validation.
type Result struct {
	State    State        `json:"state"`
	Entries  []Entry      `json:"matches"`
	Dropped  []EntryError `json:"dropped,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Raw      string       `json:"-"`
}

// Unverified returns the number of entries not found in the shortlist.
func (r *Result) Unverified() int {
	n := 0
	for _, e := range r.Entries {
		if !e.Verified {
			n++
		}
	}
	return n
}

// ParseError is terminal for the request. Raw carries the completion text
// for manual inspection.
type ParseError struct {
	Raw   string
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse match response (%s): %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EntryError describes a dropped entry.
type EntryError struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e EntryError) Error() string {
	return fmt.Sprintf("match %d: %s %s", e.Index, e.Field, e.Reason)
}

type entryInput struct {
	Name      string  `validate:"required"`
	Email     string
	Score     float64 `validate:"gte=0,lte=10"`
	Reasoning string  `validate:"required"`
}

var fieldNames = map[string]string{
	"Name":      "name",
	"Email":     "email",
	"Score":     "match_score",
	"Reasoning": "reasoning",
}

// Validator checks responses. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

// New returns a Validator.
func New() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate runs raw through the state machine. Invalid entries are dropped
// and reported in Result.Dropped; a response that cannot be parsed at all
// returns a ParseError.
func (v *Validator) Validate(raw string, shortlist []*directory.MedicalDirector) (*Result, error) {
	cleaned := Clean(raw)

	var doc map[string]any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, &ParseError{Raw: raw, Stage: string(StateCleaned), Err: err}
	}

	schemaResult, err := gojsonschema.Validate(envelopeLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, &ParseError{Raw: raw, Stage: string(StateParsed), Err: err}
	}
	if !schemaResult.Valid() {
		msgs := make([]string, 0, len(schemaResult.Errors()))
		for _, desc := range schemaResult.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, &ParseError{Raw: raw, Stage: string(StateParsed), Err: fmt.Errorf("schema: %s", strings.Join(msgs, "; "))}
	}

	items, _ := doc["matches"].([]any)
	result := &Result{State: StateValidated, Raw: raw, Entries: make([]Entry, 0, len(items))}
	seen := make(map[string]bool, len(items))

	for i, item := range items {
		entry, entryErr := v.entry(i, item)
		if entryErr != nil {
			result.Dropped = append(result.Dropped, *entryErr)
			continue
		}

		crossReference(&entry, shortlist)
		key := entryKey(entry)
		if seen[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("match %d repeats %s; duplicate ignored", i, entry.Name))
			continue
		}
		seen[key] = true
		if entry.Warning != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("match %d: %s", i, entry.Warning))
		}
		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

func (v *Validator) entry(index int, item any) (Entry, *EntryError) {
	obj, ok := item.(map[string]any)
	if !ok {
		return Entry{}, &EntryError{Index: index, Field: "match", Reason: "is not an object"}
	}

	for _, field := range []string{"name", "email", "match_score", "reasoning"} {
		if _, present := obj[field]; !present {
			return Entry{}, &EntryError{Index: index, Field: field, Reason: "is missing"}
		}
	}

	score := coerceFloat(obj["match_score"])
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Entry{}, &EntryError{Index: index, Field: "match_score", Reason: "is not a finite number"}
	}

	input := entryInput{
		Name:      directory.StripTitle(coerceString(obj["name"])),
		Email:     strings.ToLower(directory.CleanValue(coerceString(obj["email"]), "")),
		Score:     score,
		Reasoning: coerceString(obj["reasoning"]),
	}
	if err := v.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return Entry{}, &EntryError{Index: index, Field: fieldNames[fe.Field()], Reason: reasonFor(fe)}
		}
		return Entry{}, &EntryError{Index: index, Field: "match", Reason: err.Error()}
	}

	return Entry{
		Name:           input.Name,
		Email:          input.Email,
		Score:          input.Score,
		Reasoning:      input.Reasoning,
		CapacityStatus: coerceString(obj["capacity_status"]),
		Band:           BandFor(input.Score),
	}, nil
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is empty"
	case "gte", "lte":
		return "is outside 0..10"
	}
	return "failed " + fe.Tag()
}

// crossReference resolves the entry against the shortlist by email, then by
// exact name, then by name containment either way.
func crossReference(e *Entry, shortlist []*directory.MedicalDirector) {
	for _, d := range shortlist {
		if e.Email != "" && strings.EqualFold(d.Email, e.Email) {
			e.Director, e.Verified = d, true
			return
		}
	}
	name := strings.ToLower(e.Name)
	for _, d := range shortlist {
		if strings.ToLower(d.Name) == name {
			e.Director, e.Verified = d, true
			return
		}
	}
	for _, d := range shortlist {
		dn := strings.ToLower(d.Name)
		if dn != "" && (strings.Contains(dn, name) || strings.Contains(name, dn)) {
			e.Director, e.Verified = d, true
			return
		}
	}
	e.Warning = fmt.Sprintf("director %q <%s> was not in the shortlist", e.Name, e.Email)
}

func entryKey(e Entry) string {
	if e.Director != nil {
		return e.Director.Key()
	}
	if e.Email != "" {
		return e.Email
	}
	return strings.ToLower(e.Name)
}

// Clean strips code fence markers and any prose around the JSON object.
func Clean(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```JSON")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx != -1 {
			cleaned = cleaned[:idx]
		}
	}
	cleaned = strings.TrimSpace(strings.Trim(cleaned, "`"))

	if !strings.HasPrefix(cleaned, "{") {
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start != -1 && end > start {
			cleaned = cleaned[start : end+1]
		}
	}
	return cleaned
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "/10"))
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
