package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lexora/lexora-api/internal/dto"
	"github.com/lexora/lexora-api/internal/models"
)

// ConflictStatus classifies an update attempt against the stored row.
type ConflictStatus string

const (
	// ConflictStatusOK means the client worked from current state.
	ConflictStatusOK ConflictStatus = "ok"
	// ConflictStatusMergeable means the remote side changed fields the client
	// did not touch; applying the client's changes loses nothing.
	ConflictStatusMergeable ConflictStatus = "mergeable"
	// ConflictStatusHard means both sides touched the same field, or the
	// collision cannot be reasoned about safely.
	ConflictStatusHard ConflictStatus = "hard"
)

// FieldChange records one field's divergence during analysis.
type FieldChange struct {
	Field       string
	Label       string
	BaseValue   interface{}
	RemoteValue interface{}
	ClientValue interface{}
}

// ConflictResult is the transient outcome of a single analysis pass.
type ConflictResult struct {
	Status            ConflictStatus
	RemoteChanges     []FieldChange
	ClientChanges     []FieldChange
	ConflictingFields []string
}

// mergeableCaseFields is the curated allowlist of scalar fields eligible for
// conflict inspection and safe merging. Fields outside this set never
// participate in analysis; sub-collections always force a hard conflict.
var mergeableCaseFields = []string{
	"case_no",
	"title",
	"status",
	"case_amount",
	"paid_amount",
	"accepted_at",
	"closed_at",
	"remark",
	"client_name",
	"client_phone",
	"department_id",
	"handler_id",
	"assistant_id",
	"sales_id",
}

// caseFieldLabels maps column names to human-readable labels for conflict
// reports and audit entries.
var caseFieldLabels = map[string]string{
	"case_no":       "Case number",
	"title":         "Title",
	"status":        "Status",
	"case_amount":   "Case amount",
	"paid_amount":   "Paid amount",
	"accepted_at":   "Accepted date",
	"closed_at":     "Closed date",
	"remark":        "Remark",
	"client_name":   "Client name",
	"client_phone":  "Client phone",
	"department_id": "Department",
	"handler_id":    "Handler",
	"assistant_id":  "Assistant",
	"sales_id":      "Sales owner",
	"participants":  "Participants",
	"payments":      "Payments",
	"timeline":      "Timeline",
	"hearings":      "Hearings",
}

var complexCaseFields = map[string]struct{}{
	"participants": {},
	"payments":     {},
	"timeline":     {},
	"hearings":     {},
}

var mergeableCaseFieldSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(mergeableCaseFields))
	for _, f := range mergeableCaseFields {
		set[f] = struct{}{}
	}
	return set
}()

// FieldLabel resolves the display label for a case field.
func FieldLabel(field string) string {
	if label, ok := caseFieldLabels[field]; ok {
		return label
	}
	return field
}

// ConflictAnalyzer classifies a case update attempt against the stored row.
// It is stateless and safe for concurrent use.
type ConflictAnalyzer struct{}

// NewConflictAnalyzer constructs the analyzer.
func NewConflictAnalyzer() *ConflictAnalyzer {
	return &ConflictAnalyzer{}
}

// Analyze compares the stored row against the client's base snapshot and the
// incoming payload.
//
// A missing or matching base version means the client worked from current
// state. Any touch of a sub-collection forces a hard conflict because
// wholesale replacement cannot be reconciled against concurrent edits. For
// scalar fields, only the curated mergeable set is inspected; a field both
// sides changed, or a field changed without a base-snapshot entry proving
// what the client saw, is a hard conflict.
func (a *ConflictAnalyzer) Analyze(stored *models.LegalCase, meta *dto.UpdateMeta, payload *dto.CasePayload) ConflictResult {
	if meta == nil || meta.BaseVersion == nil || *meta.BaseVersion == stored.Version {
		return ConflictResult{Status: ConflictStatusOK}
	}

	result := ConflictResult{Status: ConflictStatusOK}

	complexTouched := payload.ComplexTouched()
	for _, f := range meta.DirtyFields {
		if _, ok := complexCaseFields[f]; ok {
			complexTouched = append(complexTouched, f)
		}
	}

	var snapshot map[string]interface{}
	if meta.BaseSnapshot != nil {
		snapshot = meta.BaseSnapshot
	}

	inspected := make(map[string]struct{})
	for _, f := range meta.DirtyFields {
		if _, ok := mergeableCaseFieldSet[f]; ok {
			inspected[f] = struct{}{}
		}
	}
	for f := range snapshot {
		if _, ok := mergeableCaseFieldSet[f]; ok {
			inspected[f] = struct{}{}
		}
	}

	clientValues := payload.ScalarValues()
	conflicting := make(map[string]struct{})

	// Deterministic field order keeps conflict reports stable.
	for _, field := range mergeableCaseFields {
		if _, ok := inspected[field]; !ok {
			continue
		}

		storedRaw := storedScalarValue(stored, field)
		storedCanon := canonicalValue(storedRaw)

		baseRaw, hasBase := snapshot[field]
		baseCanon := storedCanon
		if hasBase {
			baseCanon = canonicalValue(baseRaw)
		} else {
			baseRaw = storedRaw
		}

		remoteChanged := hasBase && baseCanon != storedCanon

		clientRaw, submitted := clientValues[field]
		clientChanged := submitted && canonicalValue(clientRaw) != baseCanon

		if remoteChanged {
			result.RemoteChanges = append(result.RemoteChanges, FieldChange{
				Field:       field,
				Label:       FieldLabel(field),
				BaseValue:   baseRaw,
				RemoteValue: storedRaw,
			})
		}
		if clientChanged {
			result.ClientChanges = append(result.ClientChanges, FieldChange{
				Field:       field,
				Label:       FieldLabel(field),
				BaseValue:   baseRaw,
				ClientValue: clientRaw,
			})
		}
		if (remoteChanged && clientChanged) || (clientChanged && !hasBase) {
			conflicting[field] = struct{}{}
		}
	}

	for _, field := range mergeableCaseFields {
		if _, ok := conflicting[field]; ok {
			result.ConflictingFields = append(result.ConflictingFields, field)
		}
	}

	if len(complexTouched) > 0 {
		seen := make(map[string]struct{})
		for _, f := range complexTouched {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			result.ConflictingFields = append(result.ConflictingFields, f)
		}
		result.Status = ConflictStatusHard
		return result
	}

	switch {
	case len(result.ConflictingFields) > 0:
		result.Status = ConflictStatusHard
	case len(result.RemoteChanges) > 0:
		result.Status = ConflictStatusMergeable
	default:
		result.Status = ConflictStatusOK
	}
	return result
}

// storedScalarValue reads one mergeable field from the stored row. Unknown
// fields resolve to nil, which canonicalises to the empty string.
func storedScalarValue(c *models.LegalCase, field string) interface{} {
	switch field {
	case "case_no":
		return c.CaseNo
	case "title":
		return c.Title
	case "status":
		return c.Status
	case "case_amount":
		return c.CaseAmount
	case "paid_amount":
		return c.PaidAmount
	case "accepted_at":
		return c.AcceptedAt
	case "closed_at":
		return c.ClosedAt
	case "remark":
		return c.Remark
	case "client_name":
		return c.ClientName
	case "client_phone":
		return c.ClientPhone
	case "department_id":
		return c.DepartmentID
	case "handler_id":
		return c.HandlerID
	case "assistant_id":
		return c.AssistantID
	case "sales_id":
		return c.SalesID
	}
	return nil
}

// canonicalValue normalises a value to a comparable string so that
// type-incidental differences ("3" vs 3, padded strings, date encodings)
// never register as a change.
func canonicalValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case *string:
		if t == nil {
			return ""
		}
		return strings.TrimSpace(*t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case *float64:
		if t == nil {
			return ""
		}
		return strconv.FormatFloat(*t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case time.Time:
		return canonicalTime(t)
	case *time.Time:
		if t == nil {
			return ""
		}
		return canonicalTime(*t)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

func canonicalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	utc := t.UTC()
	if utc.Hour() == 0 && utc.Minute() == 0 && utc.Second() == 0 && utc.Nanosecond() == 0 {
		return utc.Format("2006-01-02")
	}
	return utc.Format(time.RFC3339)
}
