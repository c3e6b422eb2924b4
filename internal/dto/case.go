package dto

import (
	"encoding/json"
	"time"

	"github.com/lexora/lexora-api/internal/models"
)

// ResolveModeMerge asks the server to apply the client's changes on top of
// non-colliding remote changes instead of rejecting a mergeable update.
const ResolveModeMerge = "merge"

// UpdateMeta is the client-supplied concurrency context: the version the
// client last read, the values it observed for fields it intends to touch,
// and which fields it actually changed. Constructed per request, never stored.
type UpdateMeta struct {
	BaseVersion  *int64                 `json:"baseVersion,omitempty"`
	BaseSnapshot map[string]interface{} `json:"baseSnapshot,omitempty"`
	DirtyFields  []string               `json:"dirtyFields,omitempty"`
	ResolveMode  string                 `json:"resolveMode,omitempty"`
}

// ParticipantInput is a wholesale-replace participant entry.
type ParticipantInput struct {
	Name     string `json:"name" validate:"required"`
	Role     string `json:"role" validate:"required"`
	Phone    string `json:"phone"`
	IDNumber string `json:"id_number"`
}

// PaymentInput is a wholesale-replace payment entry.
type PaymentInput struct {
	Amount float64   `json:"amount" validate:"required,gt=0"`
	PaidAt time.Time `json:"paid_at" validate:"required"`
	Method string    `json:"method"`
	Note   string    `json:"note"`
}

// TimelineInput is a wholesale-replace timeline entry.
type TimelineInput struct {
	OccurredAt time.Time `json:"occurred_at" validate:"required"`
	Title      string    `json:"title" validate:"required"`
	Content    string    `json:"content"`
}

// HearingInput is a wholesale-replace hearing entry.
type HearingInput struct {
	ScheduledAt       time.Time `json:"scheduled_at" validate:"required"`
	Courtroom         string    `json:"courtroom"`
	PresidingLawyerID *string   `json:"presiding_lawyer_id,omitempty"`
	Note              string    `json:"note"`
}

// CasePayload carries the fields a client wants to change. Scalars are
// pointers so omitted fields are left untouched; sub-collections are slice
// pointers so "key present" (including an empty array) is distinguishable
// from "key absent"; presence means wholesale replacement.
type CasePayload struct {
	CaseNo       *string  `json:"case_no,omitempty"`
	Title        *string  `json:"title,omitempty"`
	Status       *string  `json:"status,omitempty"`
	CaseAmount   *float64 `json:"case_amount,omitempty"`
	PaidAmount   *float64 `json:"paid_amount,omitempty"`
	AcceptedAt   *string  `json:"accepted_at,omitempty"`
	ClosedAt     *string  `json:"closed_at,omitempty"`
	Remark       *string  `json:"remark,omitempty"`
	ClientName   *string  `json:"client_name,omitempty"`
	ClientPhone  *string  `json:"client_phone,omitempty"`
	DepartmentID *string  `json:"department_id,omitempty"`
	HandlerID    *string  `json:"handler_id,omitempty"`
	AssistantID  *string  `json:"assistant_id,omitempty"`
	SalesID      *string  `json:"sales_id,omitempty"`

	Participants *[]ParticipantInput `json:"participants,omitempty"`
	Payments     *[]PaymentInput     `json:"payments,omitempty"`
	Timeline     *[]TimelineInput    `json:"timeline,omitempty"`
	Hearings     *[]HearingInput     `json:"hearings,omitempty"`
}

// ScalarValues returns the submitted scalar fields keyed by column name.
// Date fields keep their raw string form; parsing happens at the boundary
// before any transaction opens.
func (p *CasePayload) ScalarValues() map[string]interface{} {
	vals := make(map[string]interface{})
	putStr := func(field string, v *string) {
		if v != nil {
			vals[field] = *v
		}
	}
	putNum := func(field string, v *float64) {
		if v != nil {
			vals[field] = *v
		}
	}
	putStr("case_no", p.CaseNo)
	putStr("title", p.Title)
	putStr("status", p.Status)
	putNum("case_amount", p.CaseAmount)
	putNum("paid_amount", p.PaidAmount)
	putStr("accepted_at", p.AcceptedAt)
	putStr("closed_at", p.ClosedAt)
	putStr("remark", p.Remark)
	putStr("client_name", p.ClientName)
	putStr("client_phone", p.ClientPhone)
	putStr("department_id", p.DepartmentID)
	putStr("handler_id", p.HandlerID)
	putStr("assistant_id", p.AssistantID)
	putStr("sales_id", p.SalesID)
	return vals
}

// ComplexTouched returns the names of sub-collections present in the payload.
func (p *CasePayload) ComplexTouched() []string {
	var touched []string
	if p.Participants != nil {
		touched = append(touched, "participants")
	}
	if p.Payments != nil {
		touched = append(touched, "payments")
	}
	if p.Timeline != nil {
		touched = append(touched, "timeline")
	}
	if p.Hearings != nil {
		touched = append(touched, "hearings")
	}
	return touched
}

// UpdateCaseRequest is the update union: either a bare payload object or an
// explicit {payload, meta} wrapper. The union is normalised here, once, so
// core logic only ever sees one shape.
type UpdateCaseRequest struct {
	Payload CasePayload
	Meta    *UpdateMeta
}

// UnmarshalJSON accepts both request shapes.
func (r *UpdateCaseRequest) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		Payload json.RawMessage `json:"payload"`
		Meta    *UpdateMeta     `json:"meta"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	if wrapper.Payload != nil {
		r.Meta = wrapper.Meta
		return json.Unmarshal(wrapper.Payload, &r.Payload)
	}
	r.Meta = nil
	return json.Unmarshal(data, &r.Payload)
}

// FieldDelta reports one field's divergence in a conflict response.
type FieldDelta struct {
	Field       string      `json:"field"`
	Label       string      `json:"label"`
	BaseValue   interface{} `json:"baseValue"`
	RemoteValue interface{} `json:"remoteValue,omitempty"`
	ClientValue interface{} `json:"clientValue,omitempty"`
}

// CaseConflict is the HTTP 409 body for hard and unmerged-mergeable updates.
type CaseConflict struct {
	Type              string       `json:"type"`
	Message           string       `json:"message"`
	CaseID            string       `json:"caseId"`
	BaseVersion       int64        `json:"baseVersion"`
	LatestVersion     int64        `json:"latestVersion"`
	RemoteChanges     []FieldDelta `json:"remoteChanges"`
	ClientChanges     []FieldDelta `json:"clientChanges"`
	ConflictingFields []string     `json:"conflictingFields"`
	UpdatedAt         time.Time    `json:"updatedAt"`
	UpdatedByID       string       `json:"updatedById"`
	UpdatedByName     string       `json:"updatedByName"`
	UpdatedByRole     string       `json:"updatedByRole"`
}

// CaseResponse is the full case projection returned to clients.
type CaseResponse struct {
	models.LegalCase
	DepartmentName string `json:"department_name,omitempty"`
	HandlerName    string `json:"handler_name,omitempty"`
	AssistantName  string `json:"assistant_name,omitempty"`
	SalesName      string `json:"sales_name,omitempty"`
	UpdatedByName  string `json:"updated_by_name,omitempty"`
	UpdatedByRole  string `json:"updated_by_role,omitempty"`

	Participants []models.CaseParticipant   `json:"participants"`
	Payments     []models.CasePayment       `json:"payments"`
	Timeline     []models.CaseTimelineEntry `json:"timeline"`
	Hearings     []models.CaseHearing       `json:"hearings"`
}

// NewCaseResponse flattens the joined detail projection.
func NewCaseResponse(d *models.CaseDetail) *CaseResponse {
	if d == nil {
		return nil
	}
	resp := &CaseResponse{
		LegalCase:    d.LegalCase,
		Participants: d.Participants,
		Payments:     d.Payments,
		Timeline:     d.Timeline,
		Hearings:     d.Hearings,
	}
	if d.DepartmentName.Valid {
		resp.DepartmentName = d.DepartmentName.String
	}
	if d.HandlerName.Valid {
		resp.HandlerName = d.HandlerName.String
	}
	if d.AssistantName.Valid {
		resp.AssistantName = d.AssistantName.String
	}
	if d.SalesName.Valid {
		resp.SalesName = d.SalesName.String
	}
	if d.UpdatedByName.Valid {
		resp.UpdatedByName = d.UpdatedByName.String
	}
	if d.UpdatedByRole.Valid {
		resp.UpdatedByRole = d.UpdatedByRole.String
	}
	return resp
}

// CaseListItem is the list projection with display names resolved.
type CaseListItem struct {
	ID          string    `json:"id"`
	CaseNo      string    `json:"case_no"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	ClientName  string    `json:"client_name"`
	CaseAmount  float64   `json:"case_amount"`
	HandlerName string    `json:"handler_name,omitempty"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewCaseListItem converts a summary row.
func NewCaseListItem(s models.CaseSummary) CaseListItem {
	item := CaseListItem{
		ID:         s.ID,
		CaseNo:     s.CaseNo,
		Title:      s.Title,
		Status:     s.Status,
		ClientName: s.ClientName,
		CaseAmount: s.CaseAmount,
		Version:    s.Version,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.HandlerName.Valid {
		item.HandlerName = s.HandlerName.String
	}
	return item
}

// CaseLogItem is one audit trail entry as returned by the logs endpoint.
type CaseLogItem struct {
	ID          string                `json:"id"`
	Action      string                `json:"action"`
	ActorName   string                `json:"actor_name"`
	ActorRole   string                `json:"actor_role"`
	Description string                `json:"description"`
	Changes     []models.ChangeDetail `json:"changes"`
	CreatedAt   time.Time             `json:"created_at"`
}

// NewCaseLogItem decodes the structured diff stored on the log row.
func NewCaseLogItem(log models.CaseLog) CaseLogItem {
	item := CaseLogItem{
		ID:          log.ID,
		Action:      log.Action,
		ActorName:   log.ActorName,
		ActorRole:   log.ActorRole,
		Description: log.Description,
		CreatedAt:   log.CreatedAt,
	}
	if len(log.Details) > 0 {
		_ = json.Unmarshal(log.Details, &item.Changes)
	}
	return item
}
