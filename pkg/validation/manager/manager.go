// Package manager composes the MetaCam and Transient Obstacle
// validators into the single combined ValidationResult callers
// actually consume, keyed by a registry of validators per supported
// package format.
package manager

import (
	"fmt"
	"math"

	"github.com/otherjamesbrown/metacam-ingest/pkg/validation"
)

const combinedValidatorType = "Pipeline(MetaCam+Transient)"

// metaCamWeight and transientWeight are the combined-score blend,
// applied only when both validators actually ran (the transient
// validator's own skip is excluded from the blend, not zero-weighted
// into it).
const (
	metaCamWeight   = 0.7
	transientWeight = 0.3
)

// Manager dispatches to a registered structure validator and an
// optional transient validator per package format.
type Manager struct {
	structure  map[string]validation.BaseValidator
	transient  map[string]validation.BaseValidator
}

// New returns an empty Manager. Register validators with Register and
// RegisterTransient before calling Validate.
func New() *Manager {
	return &Manager{
		structure: make(map[string]validation.BaseValidator),
		transient: make(map[string]validation.BaseValidator),
	}
}

// Register adds a structural validator (e.g. the MetaCam Validator)
// for every format it reports supporting.
func (m *Manager) Register(v validation.BaseValidator) {
	for format := range v.SupportedFormats() {
		m.structure[format] = v
	}
}

// RegisterTransient adds a transient obstacle validator for every
// format it reports supporting. Transient validation always runs
// alongside, never instead of, structural validation.
func (m *Manager) RegisterTransient(v validation.BaseValidator) {
	for format := range v.SupportedFormats() {
		m.transient[format] = v
	}
}

// Validate runs the registered validator(s) for format and combines
// their results. is_valid always follows the structural validator's
// verdict; the transient validator can lower the combined score and
// surface its own issues, but cannot by itself veto a structurally
// valid package.
func (m *Manager) Validate(rootPath, format string, level validation.Level) (validation.Result, error) {
	structural, ok := m.structure[format]
	if !ok {
		return validation.Result{}, fmt.Errorf("manager: no validator registered for format %q", format)
	}

	base := structural.Validate(rootPath, level)

	transientValidator, ok := m.transient[format]
	if !ok {
		return base, nil
	}

	extra := transientValidator.Validate(rootPath, level)
	skipped, _ := extra.Metadata["skipped"].(bool)
	if skipped {
		return base, nil
	}

	return combine(base, extra), nil
}

func combine(base, extra validation.Result) validation.Result {
	combinedScore := roundTo2(metaCamWeight*base.Score + transientWeight*extra.Score)

	metadata := map[string]any{}
	for k, v := range base.Metadata {
		metadata[k] = v
	}
	metadata["transient"] = extra.Metadata
	metadata["validation_pipeline"] = map[string]any{
		"metacam_score":   base.Score,
		"transient_score": extra.Score,
		"combined_score":  combinedScore,
	}

	return validation.Result{
		IsValid:       base.IsValid,
		Score:         combinedScore,
		Errors:        append(append([]validation.Issue{}, base.Errors...), extra.Errors...),
		Warnings:      append(append([]validation.Issue{}, base.Warnings...), extra.Warnings...),
		Summary:       validation.TruncateSummary(base.Summary + " | " + extra.Summary),
		ValidatorType: combinedValidatorType,
		Metadata:      metadata,
	}
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
