package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexora/lexora-api/internal/dto"
	"github.com/lexora/lexora-api/internal/models"
)

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func storedCase() *models.LegalCase {
	accepted := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.LegalCase{
		ID:          "case-1",
		CaseNo:      "LX-2024-001",
		Title:       "Contract dispute",
		Status:      models.CaseStatusActive,
		CaseAmount:  1500,
		PaidAmount:  500,
		AcceptedAt:  &accepted,
		Remark:      "initial remark",
		ClientName:  "Acme Ltd",
		ClientPhone: "555-0100",
		HandlerID:   strPtr("lawyer-1"),
		Version:     7,
	}
}

func TestAnalyzeCurrentBaseIsOK(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()

	payload := &dto.CasePayload{Remark: strPtr("changed")}

	res := analyzer.Analyze(stored, nil, payload)
	assert.Equal(t, ConflictStatusOK, res.Status)

	res = analyzer.Analyze(stored, &dto.UpdateMeta{}, payload)
	assert.Equal(t, ConflictStatusOK, res.Status)

	res = analyzer.Analyze(stored, &dto.UpdateMeta{BaseVersion: int64Ptr(7)}, payload)
	assert.Equal(t, ConflictStatusOK, res.Status)
	assert.Empty(t, res.ConflictingFields)
}

func TestAnalyzeDisjointChangesAreMergeable(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()
	stored.Status = models.CaseStatusSuspended // remote changed status since base

	meta := &dto.UpdateMeta{
		BaseVersion: int64Ptr(5),
		BaseSnapshot: map[string]interface{}{
			"status": models.CaseStatusActive,
			"remark": "initial remark",
		},
		DirtyFields: []string{"remark"},
	}
	payload := &dto.CasePayload{Remark: strPtr("client remark")}

	res := analyzer.Analyze(stored, meta, payload)
	assert.Equal(t, ConflictStatusMergeable, res.Status)
	require.Len(t, res.RemoteChanges, 1)
	assert.Equal(t, "status", res.RemoteChanges[0].Field)
	require.Len(t, res.ClientChanges, 1)
	assert.Equal(t, "remark", res.ClientChanges[0].Field)
	assert.Empty(t, res.ConflictingFields)
}

func TestAnalyzeSameFieldIsHard(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()
	stored.Status = models.CaseStatusSuspended

	meta := &dto.UpdateMeta{
		BaseVersion:  int64Ptr(5),
		BaseSnapshot: map[string]interface{}{"status": models.CaseStatusActive},
		DirtyFields:  []string{"status"},
	}
	payload := &dto.CasePayload{Status: strPtr(models.CaseStatusClosed)}

	res := analyzer.Analyze(stored, meta, payload)
	assert.Equal(t, ConflictStatusHard, res.Status)
	assert.Equal(t, []string{"status"}, res.ConflictingFields)
}

func TestAnalyzeDirtyWithoutSnapshotEntryIsHard(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()

	// The client claims it changed the remark but supplied no base value to
	// prove what it saw. The change cannot be verified as safe.
	meta := &dto.UpdateMeta{
		BaseVersion: int64Ptr(5),
		DirtyFields: []string{"remark"},
	}
	payload := &dto.CasePayload{Remark: strPtr("unproven change")}

	res := analyzer.Analyze(stored, meta, payload)
	assert.Equal(t, ConflictStatusHard, res.Status)
	assert.Equal(t, []string{"remark"}, res.ConflictingFields)
}

func TestAnalyzeDirtyWithoutSnapshotButIdenticalValueIsOK(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()

	meta := &dto.UpdateMeta{
		BaseVersion: int64Ptr(5),
		DirtyFields: []string{"remark"},
	}
	payload := &dto.CasePayload{Remark: strPtr("initial remark")}

	res := analyzer.Analyze(stored, meta, payload)
	assert.Equal(t, ConflictStatusOK, res.Status)
}

func TestAnalyzeNormalizationSuppressesFalseChanges(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()

	// Snapshot values arrive as JSON-decoded strings and numbers; none of
	// these differ from the stored row once normalised.
	meta := &dto.UpdateMeta{
		BaseVersion: int64Ptr(5),
		BaseSnapshot: map[string]interface{}{
			"case_amount": "1500",
			"accepted_at": "2024-03-01",
			"client_name": "  Acme Ltd  ",
		},
		DirtyFields: []string{"case_amount"},
	}
	amount := 1500.00
	payload := &dto.CasePayload{CaseAmount: &amount}

	res := analyzer.Analyze(stored, meta, payload)
	assert.Equal(t, ConflictStatusOK, res.Status)
	assert.Empty(t, res.RemoteChanges)
	assert.Empty(t, res.ClientChanges)
}

func TestAnalyzeComplexTouchForcesHard(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()

	meta := &dto.UpdateMeta{
		BaseVersion:  int64Ptr(5),
		BaseSnapshot: map[string]interface{}{"remark": "initial remark"},
		DirtyFields:  []string{"remark", "participants"},
	}
	participants := []dto.ParticipantInput{{Name: "Jane Roe", Role: "witness"}}
	payload := &dto.CasePayload{
		Remark:       strPtr("client remark"),
		Participants: &participants,
	}

	res := analyzer.Analyze(stored, meta, payload)
	assert.Equal(t, ConflictStatusHard, res.Status)
	assert.Contains(t, res.ConflictingFields, "participants")
}

func TestAnalyzeComplexTouchWithCurrentBaseIsOK(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()

	participants := []dto.ParticipantInput{{Name: "Jane Roe", Role: "witness"}}
	payload := &dto.CasePayload{Participants: &participants}
	meta := &dto.UpdateMeta{BaseVersion: int64Ptr(stored.Version)}

	res := analyzer.Analyze(stored, meta, payload)
	assert.Equal(t, ConflictStatusOK, res.Status)
}

func TestAnalyzeFieldsOutsideAllowlistAreIgnored(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()

	meta := &dto.UpdateMeta{
		BaseVersion: int64Ptr(5),
		BaseSnapshot: map[string]interface{}{
			"created_at": "2020-01-01",
			"version":    5,
			"remark":     "initial remark",
		},
		DirtyFields: []string{"created_at"},
	}

	res := analyzer.Analyze(stored, meta, &dto.CasePayload{})
	assert.Equal(t, ConflictStatusOK, res.Status)
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	analyzer := NewConflictAnalyzer()
	stored := storedCase()
	stored.Status = models.CaseStatusSuspended

	meta := &dto.UpdateMeta{
		BaseVersion: int64Ptr(5),
		BaseSnapshot: map[string]interface{}{
			"status": models.CaseStatusActive,
			"remark": "initial remark",
		},
		DirtyFields: []string{"remark"},
	}
	payload := &dto.CasePayload{Remark: strPtr("client remark")}

	first := analyzer.Analyze(stored, meta, payload)
	second := analyzer.Analyze(stored, meta, payload)
	assert.Equal(t, first, second)
}

func TestCanonicalValueNormalization(t *testing.T) {
	midnight := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	afternoon := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, "", canonicalValue(nil))
	assert.Equal(t, "abc", canonicalValue("  abc  "))
	assert.Equal(t, "1500", canonicalValue(1500.0))
	assert.Equal(t, "1500.5", canonicalValue(1500.5))
	assert.Equal(t, "3", canonicalValue(3))
	assert.Equal(t, "2024-03-01", canonicalValue(midnight))
	assert.Equal(t, "2024-03-01T15:30:00Z", canonicalValue(afternoon))
	assert.Equal(t, "", canonicalValue((*time.Time)(nil)))
	assert.Equal(t, "", canonicalValue((*string)(nil)))
}
