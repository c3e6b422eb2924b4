package models

import (
	"database/sql"
	"time"
)

// Case status values.
const (
	CaseStatusIntake    = "INTAKE"
	CaseStatusActive    = "ACTIVE"
	CaseStatusSuspended = "SUSPENDED"
	CaseStatusClosed    = "CLOSED"
)

// LegalCase is the unit of contention: a versioned case row whose scalar
// fields participate in optimistic-lock conflict analysis. Version increases
// by exactly one on every successful write and is never decremented.
type LegalCase struct {
	ID           string     `db:"id" json:"id"`
	CaseNo       string     `db:"case_no" json:"case_no"`
	Title        string     `db:"title" json:"title"`
	Status       string     `db:"status" json:"status"`
	CaseAmount   float64    `db:"case_amount" json:"case_amount"`
	PaidAmount   float64    `db:"paid_amount" json:"paid_amount"`
	AcceptedAt   *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	ClosedAt     *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	Remark       string     `db:"remark" json:"remark"`
	ClientName   string     `db:"client_name" json:"client_name"`
	ClientPhone  string     `db:"client_phone" json:"client_phone"`
	DepartmentID *string    `db:"department_id" json:"department_id,omitempty"`
	HandlerID    *string    `db:"handler_id" json:"handler_id,omitempty"`
	AssistantID  *string    `db:"assistant_id" json:"assistant_id,omitempty"`
	SalesID      *string    `db:"sales_id" json:"sales_id,omitempty"`
	Version      int64      `db:"version" json:"version"`
	UpdatedByID  *string    `db:"updated_by_id" json:"updated_by_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// CaseParticipant is a party named on the case (plaintiff, defendant, witness).
type CaseParticipant struct {
	ID       string `db:"id" json:"id"`
	CaseID   string `db:"case_id" json:"case_id"`
	Name     string `db:"name" json:"name"`
	Role     string `db:"role" json:"role"`
	Phone    string `db:"phone" json:"phone"`
	IDNumber string `db:"id_number" json:"id_number"`
}

// CasePayment records money received against the case.
type CasePayment struct {
	ID     string    `db:"id" json:"id"`
	CaseID string    `db:"case_id" json:"case_id"`
	Amount float64   `db:"amount" json:"amount"`
	PaidAt time.Time `db:"paid_at" json:"paid_at"`
	Method string    `db:"method" json:"method"`
	Note   string    `db:"note" json:"note"`
}

// CaseTimelineEntry is a dated milestone on the case.
type CaseTimelineEntry struct {
	ID         string    `db:"id" json:"id"`
	CaseID     string    `db:"case_id" json:"case_id"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
	Title      string    `db:"title" json:"title"`
	Content    string    `db:"content" json:"content"`
}

// CaseHearing is a scheduled court hearing. The presiding lawyer reference
// also grants that lawyer visibility of the case.
type CaseHearing struct {
	ID                string    `db:"id" json:"id"`
	CaseID            string    `db:"case_id" json:"case_id"`
	ScheduledAt       time.Time `db:"scheduled_at" json:"scheduled_at"`
	Courtroom         string    `db:"courtroom" json:"courtroom"`
	PresidingLawyerID *string   `db:"presiding_lawyer_id" json:"presiding_lawyer_id,omitempty"`
	Note              string    `db:"note" json:"note"`
}

// CaseDetail is the full joined projection returned to clients: the case row,
// resolved display names and the sub-collections.
type CaseDetail struct {
	LegalCase
	DepartmentName sql.NullString `db:"department_name" json:"-"`
	HandlerName    sql.NullString `db:"handler_name" json:"-"`
	AssistantName  sql.NullString `db:"assistant_name" json:"-"`
	SalesName      sql.NullString `db:"sales_name" json:"-"`
	UpdatedByName  sql.NullString `db:"updated_by_name" json:"-"`
	UpdatedByRole  sql.NullString `db:"updated_by_role" json:"-"`

	Participants []CaseParticipant   `json:"participants"`
	Payments     []CasePayment       `json:"payments"`
	Timeline     []CaseTimelineEntry `json:"timeline"`
	Hearings     []CaseHearing       `json:"hearings"`
}

// DisplayNames maps assignment ids to resolved names for audit rendering.
func (d *CaseDetail) DisplayNames() map[string]string {
	names := make(map[string]string)
	put := func(id *string, name sql.NullString) {
		if id != nil && *id != "" && name.Valid {
			names[*id] = name.String
		}
	}
	put(d.DepartmentID, d.DepartmentName)
	put(d.HandlerID, d.HandlerName)
	put(d.AssistantID, d.AssistantName)
	put(d.SalesID, d.SalesName)
	return names
}

// CaseAccessView is the minimal projection access decisions read. CanAccess
// over this view must agree exactly with the SQL predicate used for lists.
type CaseAccessView struct {
	ID           string
	DepartmentID string
	HandlerID    string
	AssistantID  string
	SalesID      string
}

// AccessView derives the access projection from a case row.
func (c *LegalCase) AccessView() CaseAccessView {
	v := CaseAccessView{ID: c.ID}
	if c.DepartmentID != nil {
		v.DepartmentID = *c.DepartmentID
	}
	if c.HandlerID != nil {
		v.HandlerID = *c.HandlerID
	}
	if c.AssistantID != nil {
		v.AssistantID = *c.AssistantID
	}
	if c.SalesID != nil {
		v.SalesID = *c.SalesID
	}
	return v
}

// CaseSummary is the list projection.
type CaseSummary struct {
	ID          string         `db:"id" json:"id"`
	CaseNo      string         `db:"case_no" json:"case_no"`
	Title       string         `db:"title" json:"title"`
	Status      string         `db:"status" json:"status"`
	ClientName  string         `db:"client_name" json:"client_name"`
	CaseAmount  float64        `db:"case_amount" json:"case_amount"`
	HandlerName sql.NullString `db:"handler_name" json:"-"`
	Version     int64          `db:"version" json:"version"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// CaseFilter captures filtering criteria for listing cases.
type CaseFilter struct {
	Status       string
	DepartmentID string
	HandlerID    string
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
