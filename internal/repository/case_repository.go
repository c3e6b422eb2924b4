package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lexora/lexora-api/internal/models"
)

// Sentinel errors surfaced to the service layer.
var (
	// ErrCaseNotFound means no row exists for the id.
	ErrCaseNotFound = errors.New("case not found")
	// ErrVersionRace means the conditional write matched zero rows even after
	// the in-transaction re-read: a third writer interleaved.
	ErrVersionRace = errors.New("case version changed during write")
)

const caseColumns = `c.id, c.case_no, c.title, c.status, c.case_amount, c.paid_amount, c.accepted_at, c.closed_at, c.remark, c.client_name, c.client_phone, c.department_id, c.handler_id, c.assistant_id, c.sales_id, c.version, c.updated_by_id, c.created_at, c.updated_at`

// updatableCaseColumns guards the dynamic SET clause against anything outside
// the known scalar set.
var updatableCaseColumns = map[string]struct{}{
	"case_no": {}, "title": {}, "status": {}, "case_amount": {}, "paid_amount": {},
	"accepted_at": {}, "closed_at": {}, "remark": {}, "client_name": {}, "client_phone": {},
	"department_id": {}, "handler_id": {}, "assistant_id": {}, "sales_id": {},
}

// AccessPredicate is the rendered visibility filter for list/read queries.
// An empty clause means no filtering (unrestricted principal).
type AccessPredicate struct {
	Clause string
	Args   []interface{}
}

// CollectionReplacements carries sub-collections to replace wholesale. A nil
// pointer leaves the collection untouched; a non-nil pointer (even to an
// empty slice) deletes and reinserts.
type CollectionReplacements struct {
	Participants *[]models.CaseParticipant
	Payments     *[]models.CasePayment
	Timeline     *[]models.CaseTimelineEntry
	Hearings     *[]models.CaseHearing
}

// Touched returns the names of collections being replaced.
func (c CollectionReplacements) Touched() []string {
	var touched []string
	if c.Participants != nil {
		touched = append(touched, "participants")
	}
	if c.Payments != nil {
		touched = append(touched, "payments")
	}
	if c.Timeline != nil {
		touched = append(touched, "timeline")
	}
	if c.Hearings != nil {
		touched = append(touched, "hearings")
	}
	return touched
}

// UpdateCaseParams drives one version-guarded case write.
type UpdateCaseParams struct {
	CaseID          string
	ExpectedVersion int64
	Sets            map[string]interface{}
	Collections     CollectionReplacements
	ActorID         string

	// OnRace runs at most once, when the stored version no longer matches
	// ExpectedVersion at write time. It receives the freshest row; returning
	// an error aborts the transaction with nothing mutated.
	OnRace func(fresh *models.LegalCase) error

	// BuildLog derives the audit entry from the row states the write
	// replaced and produced. Returning nil skips the log entry.
	BuildLog func(before, after *models.LegalCase) (*models.CaseLog, error)
}

// CaseRepository provides persistence for case records, their sub-collections
// and the append-only case log.
type CaseRepository struct {
	db *sqlx.DB
}

// NewCaseRepository constructs the repository.
func NewCaseRepository(db *sqlx.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// GetByID returns the bare case row.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*models.LegalCase, error) {
	query := fmt.Sprintf(`SELECT %s FROM cases c WHERE c.id = $1 LIMIT 1`, caseColumns)
	var row models.LegalCase
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("get case: %w", err)
	}
	return &row, nil
}

// GetDetail returns the joined projection with display names and all
// sub-collections loaded.
func (r *CaseRepository) GetDetail(ctx context.Context, id string) (*models.CaseDetail, error) {
	return r.getDetail(ctx, r.db, id)
}

func (r *CaseRepository) getDetail(ctx context.Context, q sqlx.QueryerContext, id string) (*models.CaseDetail, error) {
	query := fmt.Sprintf(`
SELECT %s,
	d.name AS department_name,
	h.full_name AS handler_name,
	a.full_name AS assistant_name,
	s.full_name AS sales_name,
	u.full_name AS updated_by_name,
	u.role AS updated_by_role
FROM cases c
LEFT JOIN departments d ON d.id = c.department_id
LEFT JOIN users h ON h.id = c.handler_id
LEFT JOIN users a ON a.id = c.assistant_id
LEFT JOIN users s ON s.id = c.sales_id
LEFT JOIN users u ON u.id = c.updated_by_id
WHERE c.id = $1`, caseColumns)

	var detail models.CaseDetail
	if err := sqlx.GetContext(ctx, q, &detail, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("get case detail: %w", err)
	}

	collections := []struct {
		dest  interface{}
		query string
	}{
		{&detail.Participants, `SELECT id, case_id, name, role, phone, id_number FROM case_participants WHERE case_id = $1 ORDER BY name ASC`},
		{&detail.Payments, `SELECT id, case_id, amount, paid_at, method, note FROM case_payments WHERE case_id = $1 ORDER BY paid_at ASC`},
		{&detail.Timeline, `SELECT id, case_id, occurred_at, title, content FROM case_timeline_entries WHERE case_id = $1 ORDER BY occurred_at ASC`},
		{&detail.Hearings, `SELECT id, case_id, scheduled_at, courtroom, presiding_lawyer_id, note FROM case_hearings WHERE case_id = $1 ORDER BY scheduled_at ASC`},
	}
	for _, c := range collections {
		if err := sqlx.SelectContext(ctx, q, c.dest, c.query, id); err != nil {
			return nil, fmt.Errorf("load case collections: %w", err)
		}
	}

	return &detail, nil
}

// List returns scoped case summaries with total count.
func (r *CaseRepository) List(ctx context.Context, filter models.CaseFilter, pred AccessPredicate) ([]models.CaseSummary, int, error) {
	base := strings.Builder{}
	base.WriteString(`FROM cases c LEFT JOIN users h ON h.id = c.handler_id WHERE 1=1`)
	var args []interface{}

	if pred.Clause != "" {
		base.WriteString(" AND " + pred.Clause)
		args = append(args, pred.Args...)
	}
	if filter.Status != "" {
		base.WriteString(" AND c.status = ?")
		args = append(args, filter.Status)
	}
	if filter.DepartmentID != "" {
		base.WriteString(" AND c.department_id = ?")
		args = append(args, filter.DepartmentID)
	}
	if filter.HandlerID != "" {
		base.WriteString(" AND c.handler_id = ?")
		args = append(args, filter.HandlerID)
	}
	if filter.Search != "" {
		base.WriteString(" AND (LOWER(c.case_no) LIKE ? OR LOWER(c.title) LIKE ? OR LOWER(c.client_name) LIKE ?)")
		needle := "%" + strings.ToLower(filter.Search) + "%"
		args = append(args, needle, needle, needle)
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"updated_at": true,
		"created_at": true,
		"case_no":    true,
		"title":      true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "updated_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := r.db.Rebind(fmt.Sprintf(
		"SELECT c.id, c.case_no, c.title, c.status, c.client_name, c.case_amount, h.full_name AS handler_name, c.version, c.updated_at %s ORDER BY c.%s %s LIMIT %d OFFSET %d",
		base.String(), sortBy, sortOrder, pageSize, offset))

	var rows []models.CaseSummary
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}

	countQuery := r.db.Rebind("SELECT COUNT(*) " + base.String())
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	return rows, total, nil
}

// CaseIDsWithPresidingLawyer returns ids of cases whose hearing rows name any
// of the provided identities as presiding lawyer.
func (r *CaseRepository) CaseIDsWithPresidingLawyer(ctx context.Context, lawyerIDs []string) ([]string, error) {
	if len(lawyerIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT DISTINCT case_id FROM case_hearings WHERE presiding_lawyer_id IN (?)`, lawyerIDs)
	if err != nil {
		return nil, fmt.Errorf("build hearing lookup: %w", err)
	}
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("hearing participation lookup: %w", err)
	}
	return ids, nil
}

// ExecuteUpdate performs one version-guarded case write as a single
// transaction: conditional scalar update, wholesale sub-collection
// replacement, audit append and re-read. A losing conditional write mutates
// nothing; at most one re-analysis (via OnRace) happens before the write is
// retried against the freshest version or abandoned.
func (r *CaseRepository) ExecuteUpdate(ctx context.Context, params UpdateCaseParams) (*models.CaseDetail, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin case update: %w", err)
	}
	detail, err := r.executeUpdateTx(ctx, tx, params)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit case update: %w", err)
	}
	return detail, nil
}

func (r *CaseRepository) executeUpdateTx(ctx context.Context, tx *sqlx.Tx, params UpdateCaseParams) (*models.CaseDetail, error) {
	before, err := r.getByIDTx(ctx, tx, params.CaseID)
	if err != nil {
		return nil, err
	}

	if before.Version != params.ExpectedVersion {
		// Another writer committed between analysis and write. One
		// re-analysis pass against the freshest row decides whether the
		// write may proceed at the new version.
		if params.OnRace == nil {
			return nil, ErrVersionRace
		}
		if err := params.OnRace(before); err != nil {
			return nil, err
		}
	}

	applied, err := r.casUpdate(ctx, tx, params.CaseID, before.Version, params.Sets, params.ActorID)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A second collision within the same request is not retried again.
		return nil, ErrVersionRace
	}

	if err := r.replaceCollections(ctx, tx, params.CaseID, params.Collections); err != nil {
		return nil, err
	}

	after, err := r.getByIDTx(ctx, tx, params.CaseID)
	if err != nil {
		return nil, err
	}
	if after.Version != before.Version+1 {
		return nil, fmt.Errorf("case %s version skew after write: %d -> %d", params.CaseID, before.Version, after.Version)
	}

	if params.BuildLog != nil {
		log, err := params.BuildLog(before, after)
		if err != nil {
			return nil, err
		}
		if log != nil {
			if err := r.insertCaseLog(ctx, tx, log); err != nil {
				return nil, err
			}
		}
	}

	return r.getDetail(ctx, tx, params.CaseID)
}

func (r *CaseRepository) getByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.LegalCase, error) {
	query := fmt.Sprintf(`SELECT %s FROM cases c WHERE c.id = $1 LIMIT 1`, caseColumns)
	var row models.LegalCase
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("get case in tx: %w", err)
	}
	return &row, nil
}

// casUpdate is the compare-and-swap write: it succeeds only when the row
// still carries the expected version, and bumps the version by exactly one.
func (r *CaseRepository) casUpdate(ctx context.Context, tx *sqlx.Tx, id string, expected int64, sets map[string]interface{}, actorID string) (bool, error) {
	assignments := []string{"version = version + 1", "updated_at = ?", "updated_by_id = ?"}
	args := []interface{}{time.Now().UTC(), actorID}

	fields := make([]string, 0, len(sets))
	for field := range sets {
		if _, ok := updatableCaseColumns[field]; !ok {
			return false, fmt.Errorf("refusing to update unknown case column %q", field)
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		assignments = append(assignments, field+" = ?")
		args = append(args, sets[field])
	}

	query := tx.Rebind("UPDATE cases SET " + strings.Join(assignments, ", ") + " WHERE id = ? AND version = ?")
	args = append(args, id, expected)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("conditional case update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conditional case update result: %w", err)
	}
	return affected > 0, nil
}

// replaceCollections applies delete-all-insert-provided semantics to each
// submitted sub-collection. Elements are value objects; they are never
// diffed individually.
func (r *CaseRepository) replaceCollections(ctx context.Context, tx *sqlx.Tx, caseID string, c CollectionReplacements) error {
	if c.Participants != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM case_participants WHERE case_id = $1`, caseID); err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		for i := range *c.Participants {
			item := &(*c.Participants)[i]
			item.ID = uuid.NewString()
			item.CaseID = caseID
			const query = `INSERT INTO case_participants (id, case_id, name, role, phone, id_number) VALUES (:id, :case_id, :name, :role, :phone, :id_number)`
			if _, err := tx.NamedExecContext(ctx, query, item); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
	}
	if c.Payments != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM case_payments WHERE case_id = $1`, caseID); err != nil {
			return fmt.Errorf("clear payments: %w", err)
		}
		for i := range *c.Payments {
			item := &(*c.Payments)[i]
			item.ID = uuid.NewString()
			item.CaseID = caseID
			const query = `INSERT INTO case_payments (id, case_id, amount, paid_at, method, note) VALUES (:id, :case_id, :amount, :paid_at, :method, :note)`
			if _, err := tx.NamedExecContext(ctx, query, item); err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}
	}
	if c.Timeline != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM case_timeline_entries WHERE case_id = $1`, caseID); err != nil {
			return fmt.Errorf("clear timeline: %w", err)
		}
		for i := range *c.Timeline {
			item := &(*c.Timeline)[i]
			item.ID = uuid.NewString()
			item.CaseID = caseID
			const query = `INSERT INTO case_timeline_entries (id, case_id, occurred_at, title, content) VALUES (:id, :case_id, :occurred_at, :title, :content)`
			if _, err := tx.NamedExecContext(ctx, query, item); err != nil {
				return fmt.Errorf("insert timeline entry: %w", err)
			}
		}
	}
	if c.Hearings != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM case_hearings WHERE case_id = $1`, caseID); err != nil {
			return fmt.Errorf("clear hearings: %w", err)
		}
		for i := range *c.Hearings {
			item := &(*c.Hearings)[i]
			item.ID = uuid.NewString()
			item.CaseID = caseID
			const query = `INSERT INTO case_hearings (id, case_id, scheduled_at, courtroom, presiding_lawyer_id, note) VALUES (:id, :case_id, :scheduled_at, :courtroom, :presiding_lawyer_id, :note)`
			if _, err := tx.NamedExecContext(ctx, query, item); err != nil {
				return fmt.Errorf("insert hearing: %w", err)
			}
		}
	}
	return nil
}

func (r *CaseRepository) insertCaseLog(ctx context.Context, tx *sqlx.Tx, log *models.CaseLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO case_logs (id, case_id, actor_id, actor_name, actor_role, action, description, details, created_at) VALUES (:id, :case_id, :actor_id, :actor_name, :actor_role, :action, :description, :details, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("insert case log: %w", err)
	}
	return nil
}

// ListCaseLogs returns the audit trail for a case, newest first.
func (r *CaseRepository) ListCaseLogs(ctx context.Context, caseID string) ([]models.CaseLog, error) {
	const query = `SELECT id, case_id, actor_id, actor_name, actor_role, action, description, details, created_at FROM case_logs WHERE case_id = $1 ORDER BY created_at DESC`
	var logs []models.CaseLog
	if err := r.db.SelectContext(ctx, &logs, query, caseID); err != nil {
		return nil, fmt.Errorf("list case logs: %w", err)
	}
	return logs, nil
}
