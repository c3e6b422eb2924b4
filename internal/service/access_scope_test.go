package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexora/lexora-api/internal/models"
)

type directoryStub struct {
	supervisors map[string]string
	assistants  map[string][]string
	err         error
}

func (s *directoryStub) SupervisorOf(ctx context.Context, userID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.supervisors[userID], nil
}

func (s *directoryStub) AssistantsOf(ctx context.Context, lawyerID string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.assistants[lawyerID], nil
}

type hearingStub struct {
	byLawyer map[string][]string
	err      error
}

func (s *hearingStub) CaseIDsWithPresidingLawyer(ctx context.Context, lawyerIDs []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var ids []string
	for _, lawyerID := range lawyerIDs {
		ids = append(ids, s.byLawyer[lawyerID]...)
	}
	return ids, nil
}

func newTestResolver(dir *directoryStub, hearings *hearingStub) *AccessScopeResolver {
	if dir == nil {
		dir = &directoryStub{}
	}
	if hearings == nil {
		hearings = &hearingStub{}
	}
	return NewAccessScopeResolver(dir, hearings, DefaultAccessScopeConfig(), nil)
}

func caseView(id, dept, handler, assistant, sales string) models.CaseAccessView {
	return models.CaseAccessView{
		ID:           id,
		DepartmentID: dept,
		HandlerID:    handler,
		AssistantID:  assistant,
		SalesID:      sales,
	}
}

func TestResolveSuperAdminSeesEverything(t *testing.T) {
	resolver := newTestResolver(nil, nil)

	access, err := resolver.Resolve(context.Background(), models.Principal{ID: "root", Role: models.RoleSuperAdmin})
	require.NoError(t, err)

	assert.True(t, access.Unrestricted())
	assert.True(t, access.CanAccess(caseView("c1", "other-dept", "", "", "")))

	_, _, filtered := access.QueryPredicate()
	assert.False(t, filtered)
}

func TestResolveUnknownRoleSeesNothing(t *testing.T) {
	resolver := newTestResolver(nil, nil)

	access, err := resolver.Resolve(context.Background(), models.Principal{ID: "u1", Role: models.UserRole("INTERN")})
	require.NoError(t, err)

	assert.True(t, access.Empty())
	assert.False(t, access.CanAccess(caseView("c1", "", "u1", "", "")))

	clause, args, filtered := access.QueryPredicate()
	assert.True(t, filtered)
	assert.Equal(t, "1 = 0", clause)
	assert.Empty(t, args)
}

func TestResolveAdminScopesToDepartment(t *testing.T) {
	resolver := newTestResolver(nil, nil)

	access, err := resolver.Resolve(context.Background(), models.Principal{
		ID: "admin-1", Role: models.RoleAdmin, DepartmentID: "dept-1",
	})
	require.NoError(t, err)

	assert.True(t, access.CanAccess(caseView("c1", "dept-1", "", "", "")))
	assert.False(t, access.CanAccess(caseView("c2", "dept-2", "", "", "")))
	// Direct assignment grants access even outside the department.
	assert.True(t, access.CanAccess(caseView("c3", "dept-2", "admin-1", "", "")))
}

func TestResolveLawyerSeesOwnAndSubordinateAssignments(t *testing.T) {
	dir := &directoryStub{assistants: map[string][]string{"lawyer-1": {"asst-1", "asst-2"}}}
	resolver := newTestResolver(dir, nil)

	access, err := resolver.Resolve(context.Background(), models.Principal{ID: "lawyer-1", Role: models.RoleLawyer})
	require.NoError(t, err)

	assert.True(t, access.CanAccess(caseView("c1", "", "lawyer-1", "", "")))
	assert.True(t, access.CanAccess(caseView("c2", "", "", "asst-2", "")))
	assert.False(t, access.CanAccess(caseView("c3", "", "lawyer-9", "", "")))
	// Department membership alone grants nothing to assigned-scope roles.
	assert.False(t, access.CanAccess(caseView("c4", "dept-1", "", "", "")))
}

func TestResolveAssistantInheritsSupervisorAssignments(t *testing.T) {
	resolver := newTestResolver(nil, nil)

	access, err := resolver.Resolve(context.Background(), models.Principal{
		ID: "asst-1", Role: models.RoleAssistant, SupervisorID: "lawyer-1",
	})
	require.NoError(t, err)

	// Cases handled by the supervising lawyer are visible to the assistant.
	assert.True(t, access.CanAccess(caseView("c1", "", "lawyer-1", "", "")))
	assert.True(t, access.CanAccess(caseView("c2", "", "", "asst-1", "")))
	assert.False(t, access.CanAccess(caseView("c3", "", "lawyer-2", "", "")))
}

func TestResolveAssistantFallsBackToDirectoryForSupervisor(t *testing.T) {
	dir := &directoryStub{supervisors: map[string]string{"asst-1": "lawyer-1"}}
	resolver := newTestResolver(dir, nil)

	access, err := resolver.Resolve(context.Background(), models.Principal{ID: "asst-1", Role: models.RoleAssistant})
	require.NoError(t, err)

	assert.True(t, access.CanAccess(caseView("c1", "", "lawyer-1", "", "")))
}

func TestResolveHearingParticipationGrantsCase(t *testing.T) {
	hearings := &hearingStub{byLawyer: map[string][]string{"lawyer-1": {"case-h"}}}
	resolver := newTestResolver(nil, hearings)

	access, err := resolver.Resolve(context.Background(), models.Principal{ID: "lawyer-1", Role: models.RoleLawyer})
	require.NoError(t, err)

	assert.True(t, access.CanAccess(caseView("case-h", "", "other", "", "")))
	assert.False(t, access.CanAccess(caseView("case-x", "", "other", "", "")))

	clause, args, filtered := access.QueryPredicate()
	assert.True(t, filtered)
	assert.Contains(t, clause, "c.id = ANY(?)")
	assert.NotEmpty(t, args)
}

func TestQueryPredicateMirrorsCanAccess(t *testing.T) {
	dir := &directoryStub{assistants: map[string][]string{"lawyer-1": {"asst-1"}}}
	hearings := &hearingStub{byLawyer: map[string][]string{"lawyer-1": {"case-h"}}}
	resolver := newTestResolver(dir, hearings)

	access, err := resolver.Resolve(context.Background(), models.Principal{ID: "lawyer-1", Role: models.RoleLawyer})
	require.NoError(t, err)

	clause, args, filtered := access.QueryPredicate()
	require.True(t, filtered)
	assert.Contains(t, clause, "c.handler_id = ANY(?)")
	assert.Contains(t, clause, "c.assistant_id = ANY(?)")
	assert.Contains(t, clause, "c.sales_id = ANY(?)")
	assert.Contains(t, clause, "c.id = ANY(?)")
	assert.NotContains(t, clause, "c.department_id")
	assert.Len(t, args, 4)

	// Every grant the predicate encodes is also honoured by CanAccess.
	assert.True(t, access.CanAccess(caseView("c1", "", "lawyer-1", "", "")))
	assert.True(t, access.CanAccess(caseView("c2", "", "", "asst-1", "")))
	assert.True(t, access.CanAccess(caseView("case-h", "", "", "", "")))
	assert.False(t, access.CanAccess(caseView("c3", "dept-1", "", "", "")))
}

func TestQueryPredicateIncludesDepartmentForAdminScope(t *testing.T) {
	resolver := newTestResolver(nil, nil)

	access, err := resolver.Resolve(context.Background(), models.Principal{
		ID: "admin-1", Role: models.RoleAdmin, DepartmentID: "dept-1",
	})
	require.NoError(t, err)

	clause, args, filtered := access.QueryPredicate()
	require.True(t, filtered)
	assert.Contains(t, clause, "c.department_id = ?")
	assert.Len(t, args, 4)
}
