package service

import (
	"fmt"
	"strings"

	"github.com/lexora/lexora-api/internal/models"
)

// ChangeLogger derives the human-readable audit diff between two case
// snapshots. It shares the analyzer's normalisation so a value the analyzer
// considers unchanged never shows up as a change in the audit trail.
type ChangeLogger struct{}

// NewChangeLogger constructs the logger.
func NewChangeLogger() *ChangeLogger {
	return &ChangeLogger{}
}

// Diff compares the curated scalar set between two snapshots. The names map
// resolves assignment ids to display names; ids without a known name fall
// back to the raw value.
func (l *ChangeLogger) Diff(before, after *models.LegalCase, names map[string]string) []models.ChangeDetail {
	var details []models.ChangeDetail
	for _, field := range mergeableCaseFields {
		prev := canonicalValue(storedScalarValue(before, field))
		curr := canonicalValue(storedScalarValue(after, field))
		if prev == curr {
			continue
		}
		details = append(details, models.ChangeDetail{
			Field:         field,
			Label:         FieldLabel(field),
			PreviousValue: l.display(field, prev, names),
			CurrentValue:  l.display(field, curr, names),
		})
	}
	return details
}

// display substitutes a display name for foreign-key values when one is
// known. Audit logs are for humans; raw ids are a last resort.
func (l *ChangeLogger) display(field, value string, names map[string]string) string {
	if value == "" {
		return "-"
	}
	if strings.HasSuffix(field, "_id") {
		if name, ok := names[value]; ok && name != "" {
			return name
		}
	}
	return value
}

// Describe renders a single-line summary: one change spells out the values,
// multiple changes list up to three labels with a truncation marker.
func (l *ChangeLogger) Describe(details []models.ChangeDetail) string {
	switch len(details) {
	case 0:
		return ""
	case 1:
		d := details[0]
		return fmt.Sprintf("%s: %s -> %s", d.Label, d.PreviousValue, d.CurrentValue)
	default:
		labels := make([]string, 0, 3)
		for i, d := range details {
			if i == 3 {
				break
			}
			labels = append(labels, d.Label)
		}
		summary := "Updated " + strings.Join(labels, ", ")
		if extra := len(details) - len(labels); extra > 0 {
			summary += fmt.Sprintf(" and %d more", extra)
		}
		return summary
	}
}

// DescribeCollections summarises wholesale sub-collection replacements.
func (l *ChangeLogger) DescribeCollections(replaced []string) string {
	if len(replaced) == 0 {
		return ""
	}
	labels := make([]string, 0, len(replaced))
	for _, field := range replaced {
		labels = append(labels, FieldLabel(field))
	}
	return "Replaced " + strings.Join(labels, ", ")
}
