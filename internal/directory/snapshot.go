package directory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// RawData is what a directory source yields: director contact rows, optional
// director metadata rows and provider ticket rows.
type RawData struct {
	Directors []Row
	Metadata  []Row
	Providers []Row
}

// Source loads raw rows from files, a database or anything else. Column
// naming is the source's business; the directory only sees Rows.
type Source interface {
	Name() string
	Load(ctx context.Context) (*RawData, error)
}

// LoadError reports a directory source that could not be read or parsed.
// No partial directory is exposed when it is returned.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load directory from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// BuildOptions controls how raw rows become a Snapshot.
type BuildOptions struct {
	DirectorColumns     DirectorColumns
	MetadataColumns     DirectorColumns
	ProviderColumns     ProviderColumns
	OpenStatuses        []AcceptingStatus
	AcceptUnknownStatus bool
	UnknownValue        string
}

// DefaultBuildOptions returns options for the default column layout.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		DirectorColumns: DefaultDirectorColumns(),
		MetadataColumns: DefaultDirectorColumns(),
		ProviderColumns: DefaultProviderColumns(),
		OpenStatuses:    []AcceptingStatus{StatusOpen, StatusOpenMidLevelOnly},
		UnknownValue:    "Unknown",
	}
}

// Snapshot is an immutable, fully built directory.
type Snapshot struct {
	// Directors are the directors accepting new providers, in source order.
	Directors []*MedicalDirector
	// Closed are the directors removed by the accepting status prefilter.
	Closed    []*MedicalDirector
	Providers []*Provider
	Merge     MergeReport
	Source    string
	LoadedAt  time.Time
}

// Build normalizes raw rows into a Snapshot. The accepting status prefilter
// is applied here, once, for the whole directory.
func Build(raw *RawData, opts BuildOptions) (*Snapshot, error) {
	if raw == nil {
		return nil, fmt.Errorf("no raw directory data")
	}
	if len(opts.OpenStatuses) == 0 {
		opts.OpenStatuses = DefaultBuildOptions().OpenStatuses
	}

	primary := normalizeDirectors(raw.Directors, opts.DirectorColumns)
	metadata := normalizeDirectors(raw.Metadata, opts.MetadataColumns)

	var report MergeReport
	switch {
	case len(primary) == 0 && len(metadata) == 0:
		return nil, fmt.Errorf("directory source returned no directors")
	case len(primary) == 0:
		for _, m := range metadata {
			if !HasNurseCredential(m.Name) {
				primary = append(primary, m)
			}
		}
		report = MergeReport{Matches: map[MatchKind]int{}}
	case len(metadata) > 0:
		primary, report = MergeMetadata(primary, metadata)
	default:
		report = MergeReport{Matches: map[MatchKind]int{MatchNone: len(primary)}}
	}

	snap := &Snapshot{Merge: report}
	for _, d := range primary {
		if isOpen(d.AcceptingStatus, opts) {
			snap.Directors = append(snap.Directors, d)
		} else {
			snap.Closed = append(snap.Closed, d)
		}
	}

	unknown := opts.UnknownValue
	for _, row := range raw.Providers {
		p := NormalizeProvider(row, opts.ProviderColumns, unknown)
		if p.Email == "" && (p.Name == "" || p.Name == unknown) {
			continue
		}
		snap.Providers = append(snap.Providers, p)
	}

	return snap, nil
}

func normalizeDirectors(rows []Row, cols DirectorColumns) []*MedicalDirector {
	out := make([]*MedicalDirector, 0, len(rows))
	for _, row := range rows {
		d := NormalizeDirector(row, cols)
		if d.Name == "" && d.Email == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

func isOpen(status AcceptingStatus, opts BuildOptions) bool {
	if status == StatusUnknown {
		return opts.AcceptUnknownStatus
	}
	return slices.Contains(opts.OpenStatuses, status)
}

// FindProvider returns the first provider whose email or ticket subject
// contains the query, case-insensitively.
func (s *Snapshot) FindProvider(query string) *Provider {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	for _, p := range s.Providers {
		if strings.EqualFold(p.Email, q) {
			return p
		}
	}
	for _, p := range s.Providers {
		if strings.Contains(strings.ToLower(p.Email), q) || strings.Contains(strings.ToLower(p.Name), q) {
			return p
		}
	}
	return nil
}

// FindDirector returns the open director with the given email or name.
func (s *Snapshot) FindDirector(ref string) *MedicalDirector {
	ref = strings.ToLower(StripTitle(ref))
	if ref == "" {
		return nil
	}
	for _, d := range s.Directors {
		if d.Email != "" && d.Email == ref {
			return d
		}
	}
	for _, d := range s.Directors {
		if strings.ToLower(d.Name) == ref {
			return d
		}
	}
	return nil
}
