package models

import "time"

// Case log action kinds.
const (
	CaseLogActionCreate = "CASE_CREATE"
	CaseLogActionUpdate = "CASE_UPDATE"
	CaseLogActionMerge  = "CASE_MERGE_UPDATE"
)

// ChangeDetail is one field-level entry of a case log's structured diff.
// Values are rendered with display names where available; raw foreign-key
// ids never reach the audit trail when a name is known.
type ChangeDetail struct {
	Field         string `json:"field"`
	Label         string `json:"label"`
	PreviousValue string `json:"previousValue"`
	CurrentValue  string `json:"currentValue"`
}

// CaseLog is an append-only audit record for a case write. Actor identity is
// denormalised at write time so history survives actor deletion.
type CaseLog struct {
	ID          string    `db:"id" json:"id"`
	CaseID      string    `db:"case_id" json:"case_id"`
	ActorID     *string   `db:"actor_id" json:"actor_id,omitempty"`
	ActorName   string    `db:"actor_name" json:"actor_name"`
	ActorRole   string    `db:"actor_role" json:"actor_role"`
	Action      string    `db:"action" json:"action"`
	Description string    `db:"description" json:"description"`
	Details     []byte    `db:"details" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Request-level audit actions.
const (
	AuditActionLogin  = "LOGIN"
	AuditActionAccess = "ACCESS"
)

// AuditLog represents a request-level audit trail record, distinct from the
// per-case change log.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
