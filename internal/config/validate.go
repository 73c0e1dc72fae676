// This file adds a lightweight linter/validator for Job values. It performs
// static checks over a decoded Job and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that should be surfaced to users but
	// does not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Job.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "indicators[1].primary_group"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is severity error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate performs static validation of a Job. It does not mutate the job;
// callers decide whether warnings are fatal.
func Validate(j Job) []Issue {
	var issues []Issue

	if strings.TrimSpace(j.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateStorage(j.Storage)...)
	issues = append(issues, validateRuntime(j.Runtime)...)
	issues = append(issues, validateIndicators(j.Indicators)...)

	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
		return issues
	}

	// Unknown kinds are warnings for forward compatibility; the factory has
	// the final say at open time.
	known := map[string]struct{}{
		"postgres": {},
		"sqlite":   {},
		"mysql":    {},
		"memory":   {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}

	if s.Kind != "memory" && strings.TrimSpace(s.DB.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  fmt.Sprintf("%s storage requires a non-empty dsn", s.Kind),
		})
	}

	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue

	if r.ExtractWorkers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.extract_workers",
			Message:  "extract_workers must not be negative",
		})
	}
	if r.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  "batch_size must not be negative",
		})
	}
	if r.ExtractWorkers > 64 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.extract_workers",
			Message:  fmt.Sprintf("%d workers will likely exhaust the database connection pool", r.ExtractWorkers),
		})
	}

	return issues
}

func validateIndicators(inds []Indicator) []Issue {
	var issues []Issue

	if len(inds) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "indicators",
			Message:  "no indicators declared; the run will do nothing",
		})
	}

	seenIDs := make(map[int64]int, len(inds))
	for idx, ind := range inds {
		path := func(field string) string { return fmt.Sprintf("indicators[%d].%s", idx, field) }

		if strings.TrimSpace(ind.Name) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path("name"),
				Message:  "name must not be empty",
			})
		}
		if ind.DatasetID <= 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path("dataset_id"),
				Message:  "dataset_id must be a positive id",
			})
		}
		if prev, dup := seenIDs[ind.ID]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path("id"),
				Message:  fmt.Sprintf("id %d already used by indicators[%d]", ind.ID, prev),
			})
		} else {
			seenIDs[ind.ID] = idx
		}

		issues = append(issues, validateGroups(ind, path)...)

		for fi, f := range ind.Universe {
			if strings.TrimSpace(f.Group) == "" || strings.TrimSpace(f.Value) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fmt.Sprintf("%s[%d]", path("universe"), fi),
					Message:  "universe entries require both group and value",
				})
			}
		}
	}

	return issues
}

func validateGroups(ind Indicator, path func(string) string) []Issue {
	var issues []Issue

	if len(ind.Groups) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path("groups"),
			Message:  "at least one group is required",
		})
		return issues
	}
	if len(ind.Groups) > 3 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path("groups"),
			Message:  fmt.Sprintf("%d groups declared; at most 3 are supported", len(ind.Groups)),
		})
	}

	seen := make(map[string]struct{}, len(ind.Groups))
	primaryOK := false
	for _, g := range ind.Groups {
		if strings.TrimSpace(g) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path("groups"),
				Message:  "group names must not be empty",
			})
			continue
		}
		if _, dup := seen[g]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path("groups"),
				Message:  fmt.Sprintf("group %q repeats", g),
			})
		}
		seen[g] = struct{}{}
		if g == ind.PrimaryGroup {
			primaryOK = true
		}
	}
	if !primaryOK {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path("primary_group"),
			Message:  fmt.Sprintf("primary group %q is not one of the declared groups", ind.PrimaryGroup),
		})
	}

	return issues
}
