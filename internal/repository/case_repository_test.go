package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexora/lexora-api/internal/models"
)

func newCaseRepoMock(t *testing.T) (*CaseRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewCaseRepository(sqlxDB), mock, func() { db.Close() }
}

var caseRowColumns = []string{
	"id", "case_no", "title", "status", "case_amount", "paid_amount",
	"accepted_at", "closed_at", "remark", "client_name", "client_phone",
	"department_id", "handler_id", "assistant_id", "sales_id",
	"version", "updated_by_id", "created_at", "updated_at",
}

func caseRow(version int64, status string) *sqlmock.Rows {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(caseRowColumns).AddRow(
		"case-1", "LX-2024-001", "Hargrove v. Crane", status, 1500.0, 500.0,
		nil, nil, "initial remark", "Hargrove Textiles", "555-0130",
		"dept-1", "lawyer-1", nil, nil,
		version, "lawyer-1", now, now,
	)
}

func caseDetailRow(version int64, status string) *sqlmock.Rows {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	columns := append(append([]string{}, caseRowColumns...),
		"department_name", "handler_name", "assistant_name", "sales_name", "updated_by_name", "updated_by_role")
	return sqlmock.NewRows(columns).AddRow(
		"case-1", "LX-2024-001", "Hargrove v. Crane", status, 1500.0, 500.0,
		nil, nil, "initial remark", "Hargrove Textiles", "555-0130",
		"dept-1", "lawyer-1", nil, nil,
		version, "lawyer-1", now, now,
		"Litigation", "Ada Bern", nil, nil, "Ada Bern", "LAWYER",
	)
}

func expectDetailQueries(mock sqlmock.Sqlmock, version int64, status string) {
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN departments d")).
		WithArgs("case-1").
		WillReturnRows(caseDetailRow(version, status))
	mock.ExpectQuery(regexp.QuoteMeta("FROM case_participants")).
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "case_id", "name", "role", "phone", "id_number"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM case_payments")).
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "case_id", "amount", "paid_at", "method", "note"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM case_timeline_entries")).
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "case_id", "occurred_at", "title", "content"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM case_hearings")).
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "case_id", "scheduled_at", "courtroom", "presiding_lawyer_id", "note"}))
}

func TestExecuteUpdateHappyPath(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(7, "ACTIVE"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE cases SET version = version + 1, updated_at = ?, updated_by_id = ?, remark = ? WHERE id = ? AND version = ?")).
		WithArgs(sqlmock.AnyArg(), "lawyer-1", "client remark", "case-1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(8, "ACTIVE"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO case_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectDetailQueries(mock, 8, "ACTIVE")
	mock.ExpectCommit()

	var loggedBefore, loggedAfter int64
	detail, err := repo.ExecuteUpdate(context.Background(), UpdateCaseParams{
		CaseID:          "case-1",
		ExpectedVersion: 7,
		Sets:            map[string]interface{}{"remark": "client remark"},
		ActorID:         "lawyer-1",
		OnRace: func(fresh *models.LegalCase) error {
			t.Fatal("OnRace must not fire when the stored version matches")
			return nil
		},
		BuildLog: func(before, after *models.LegalCase) (*models.CaseLog, error) {
			loggedBefore, loggedAfter = before.Version, after.Version
			actor := "lawyer-1"
			return &models.CaseLog{
				CaseID: "case-1", ActorID: &actor, ActorName: "Ada Bern",
				ActorRole: "LAWYER", Action: models.CaseLogActionUpdate,
				Description: "Updated Remark",
			}, nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(8), detail.Version)
	assert.Equal(t, int64(7), loggedBefore)
	assert.Equal(t, int64(8), loggedAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdateZeroRowsIsVersionRace(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(7, "ACTIVE"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE cases SET version = version + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	onRaceCalls := 0
	_, err := repo.ExecuteUpdate(context.Background(), UpdateCaseParams{
		CaseID:          "case-1",
		ExpectedVersion: 7,
		Sets:            map[string]interface{}{"remark": "client remark"},
		ActorID:         "lawyer-1",
		OnRace: func(fresh *models.LegalCase) error {
			onRaceCalls++
			return nil
		},
	})

	require.ErrorIs(t, err, ErrVersionRace)
	assert.Zero(t, onRaceCalls, "matching read version must not trigger re-analysis")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdateRaceInvokesOnRaceOnce(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(7, "ACTIVE"))
	// After re-analysis the write retries against the freshest version.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE cases SET version = version + 1, updated_at = ?, updated_by_id = ?, remark = ? WHERE id = ? AND version = ?")).
		WithArgs(sqlmock.AnyArg(), "lawyer-1", "client remark", "case-1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(8, "ACTIVE"))
	expectDetailQueries(mock, 8, "ACTIVE")
	mock.ExpectCommit()

	var freshVersions []int64
	detail, err := repo.ExecuteUpdate(context.Background(), UpdateCaseParams{
		CaseID:          "case-1",
		ExpectedVersion: 6,
		Sets:            map[string]interface{}{"remark": "client remark"},
		ActorID:         "lawyer-1",
		OnRace: func(fresh *models.LegalCase) error {
			freshVersions = append(freshVersions, fresh.Version)
			return nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []int64{7}, freshVersions)
	assert.Equal(t, int64(8), detail.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdateOnRaceAbortMutatesNothing(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(7, "ACTIVE"))
	mock.ExpectRollback()

	abort := errors.New("hard conflict")
	_, err := repo.ExecuteUpdate(context.Background(), UpdateCaseParams{
		CaseID:          "case-1",
		ExpectedVersion: 6,
		Sets:            map[string]interface{}{"remark": "client remark"},
		ActorID:         "lawyer-1",
		OnRace:          func(fresh *models.LegalCase) error { return abort },
	})

	require.ErrorIs(t, err, abort)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdateRaceWithoutHandlerFailsFast(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(9, "ACTIVE"))
	mock.ExpectRollback()

	_, err := repo.ExecuteUpdate(context.Background(), UpdateCaseParams{
		CaseID:          "case-1",
		ExpectedVersion: 7,
		Sets:            map[string]interface{}{"remark": "client remark"},
		ActorID:         "lawyer-1",
	})

	require.ErrorIs(t, err, ErrVersionRace)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdateReplacesCollections(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(7, "ACTIVE"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE cases SET version = version + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM case_participants WHERE case_id = $1")).
		WithArgs("case-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO case_participants")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(8, "ACTIVE"))
	expectDetailQueries(mock, 8, "ACTIVE")
	mock.ExpectCommit()

	participants := []models.CaseParticipant{{Name: "Jonah Crane", Role: "DEFENDANT"}}
	detail, err := repo.ExecuteUpdate(context.Background(), UpdateCaseParams{
		CaseID:          "case-1",
		ExpectedVersion: 7,
		Sets:            map[string]interface{}{},
		Collections:     CollectionReplacements{Participants: &participants},
		ActorID:         "lawyer-1",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(8), detail.Version)
	assert.NotEmpty(t, participants[0].ID)
	assert.Equal(t, "case-1", participants[0].CaseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdateRejectsUnknownColumn(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-1").
		WillReturnRows(caseRow(7, "ACTIVE"))
	mock.ExpectRollback()

	_, err := repo.ExecuteUpdate(context.Background(), UpdateCaseParams{
		CaseID:          "case-1",
		ExpectedVersion: 7,
		Sets:            map[string]interface{}{"version": int64(99)},
		ActorID:         "lawyer-1",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown case column")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	mock.ExpectQuery(regexp.QuoteMeta("FROM cases c WHERE c.id = $1 LIMIT 1")).
		WithArgs("case-9").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "case-9")
	require.ErrorIs(t, err, ErrCaseNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAppliesPredicateAndFilters(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	summaryColumns := []string{"id", "case_no", "title", "status", "client_name", "case_amount", "handler_name", "version", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT c.id, c.case_no, c.title, c.status, c.client_name, c.case_amount, h.full_name AS handler_name")).
		WithArgs("lawyer-1", "ACTIVE").
		WillReturnRows(sqlmock.NewRows(summaryColumns).AddRow(
			"case-1", "LX-2024-001", "Hargrove v. Crane", "ACTIVE", "Hargrove Textiles", 1500.0, "Ada Bern", int64(7), time.Now().UTC(),
		))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("lawyer-1", "ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows, total, err := repo.List(context.Background(),
		models.CaseFilter{Status: "ACTIVE", Page: 1, PageSize: 20},
		AccessPredicate{Clause: "c.handler_id = ?", Args: []interface{}{"lawyer-1"}})

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "LX-2024-001", rows[0].CaseNo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseIDsWithPresidingLawyer(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	ids, err := repo.CaseIDsWithPresidingLawyer(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, ids, "empty identity set must not touch the database")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT case_id FROM case_hearings WHERE presiding_lawyer_id IN")).
		WithArgs("lawyer-1", "lawyer-2").
		WillReturnRows(sqlmock.NewRows([]string{"case_id"}).AddRow("case-3").AddRow("case-7"))

	ids, err = repo.CaseIDsWithPresidingLawyer(context.Background(), []string{"lawyer-1", "lawyer-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"case-3", "case-7"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCaseLogsNewestFirst(t *testing.T) {
	repo, mock, closeFn := newCaseRepoMock(t)
	defer closeFn()

	columns := []string{"id", "case_id", "actor_id", "actor_name", "actor_role", "action", "description", "details", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM case_logs WHERE case_id = $1 ORDER BY created_at DESC")).
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("log-2", "case-1", "lawyer-1", "Ada Bern", "LAWYER", models.CaseLogActionMerge, "Merged Remark", nil, time.Date(2024, 5, 11, 9, 0, 0, 0, time.UTC)).
			AddRow("log-1", "case-1", "lawyer-1", "Ada Bern", "LAWYER", models.CaseLogActionUpdate, "Updated Status", nil, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)))

	logs, err := repo.ListCaseLogs(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "log-2", logs[0].ID)
	assert.Equal(t, models.CaseLogActionUpdate, logs[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}
