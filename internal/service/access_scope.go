package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lexora/lexora-api/internal/models"
)

// ScopeRule is the visibility breadth granted to a role.
type ScopeRule int

const (
	// ScopeNone grants nothing: list queries are empty, mutations are rejected.
	ScopeNone ScopeRule = iota
	// ScopeAll grants unrestricted visibility with no query filter.
	ScopeAll
	// ScopeDepartment grants the principal's department plus direct
	// assignments and hearing participation.
	ScopeDepartment
	// ScopeAssigned grants direct assignments and hearing participation only,
	// never department membership.
	ScopeAssigned
)

// AccessScopeConfig binds each role to its visibility rule. It is constructed
// once at startup and passed into the resolver; it is never mutated during
// request handling.
type AccessScopeConfig struct {
	Rules map[models.UserRole]ScopeRule
}

// DefaultAccessScopeConfig returns the firm's standard role scoping.
func DefaultAccessScopeConfig() AccessScopeConfig {
	return AccessScopeConfig{Rules: map[models.UserRole]ScopeRule{
		models.RoleSuperAdmin:     ScopeAll,
		models.RoleAdmin:          ScopeDepartment,
		models.RoleAdministration: ScopeDepartment,
		models.RoleLawyer:         ScopeAssigned,
		models.RoleAssistant:      ScopeAssigned,
		models.RoleSale:           ScopeAssigned,
	}}
}

// accessDirectory provides the supervision-graph lookups scope resolution needs.
type accessDirectory interface {
	SupervisorOf(ctx context.Context, userID string) (string, error)
	AssistantsOf(ctx context.Context, lawyerID string) ([]string, error)
}

// hearingLookup resolves indirect grants via hearing participation.
type hearingLookup interface {
	CaseIDsWithPresidingLawyer(ctx context.Context, lawyerIDs []string) ([]string, error)
}

// AccessContext is the per-request visibility scope for one principal.
// Hearing participation is resolved once and cached on this value; the value
// itself must never outlive the request, because role, department and
// assignments can all change between requests.
type AccessContext struct {
	principalID    string
	role           models.UserRole
	rule           ScopeRule
	departmentID   string
	identityIDs    []string
	identitySet    map[string]struct{}
	hearingCaseIDs map[string]struct{}
}

// Unrestricted reports whether the principal sees everything.
func (c *AccessContext) Unrestricted() bool {
	return c.rule == ScopeAll
}

// Empty reports whether the principal sees nothing.
func (c *AccessContext) Empty() bool {
	return c.rule == ScopeNone
}

// CanAccess decides visibility of a single case. It must agree exactly with
// QueryPredicate: any row a predicate-filtered list returns satisfies
// CanAccess, and vice versa.
func (c *AccessContext) CanAccess(view models.CaseAccessView) bool {
	switch c.rule {
	case ScopeAll:
		return true
	case ScopeNone:
		return false
	case ScopeDepartment:
		if c.departmentID != "" && view.DepartmentID == c.departmentID {
			return true
		}
		return c.assignedOrHearing(view)
	case ScopeAssigned:
		return c.assignedOrHearing(view)
	}
	return false
}

func (c *AccessContext) assignedOrHearing(view models.CaseAccessView) bool {
	for _, assigned := range []string{view.HandlerID, view.AssistantID, view.SalesID} {
		if assigned == "" {
			continue
		}
		if _, ok := c.identitySet[assigned]; ok {
			return true
		}
	}
	_, ok := c.hearingCaseIDs[view.ID]
	return ok
}

// QueryPredicate renders the scope as a SQL fragment over the aliased cases
// table `c`, using `?` bindvars for later rebinding. ok=false means no filter
// is needed (unrestricted).
func (c *AccessContext) QueryPredicate() (clause string, args []interface{}, ok bool) {
	switch c.rule {
	case ScopeAll:
		return "", nil, false
	case ScopeNone:
		return "1 = 0", nil, true
	}

	ids := pq.StringArray(c.identityIDs)
	clauses := []string{
		"c.handler_id = ANY(?)",
		"c.assistant_id = ANY(?)",
		"c.sales_id = ANY(?)",
	}
	args = []interface{}{ids, ids, ids}

	if c.rule == ScopeDepartment && c.departmentID != "" {
		clauses = append([]string{"c.department_id = ?"}, clauses...)
		args = append([]interface{}{c.departmentID}, args...)
	}

	if len(c.hearingCaseIDs) > 0 {
		hearingIDs := make([]string, 0, len(c.hearingCaseIDs))
		for id := range c.hearingCaseIDs {
			hearingIDs = append(hearingIDs, id)
		}
		sort.Strings(hearingIDs)
		clauses = append(clauses, "c.id = ANY(?)")
		args = append(args, pq.StringArray(hearingIDs))
	}

	return "(" + strings.Join(clauses, " OR ") + ")", args, true
}

// AccessScopeResolver computes the visibility scope for a principal. Scope
// breadth comes from the config value; identity inheritance (assistant to
// supervising lawyer, lawyer to subordinate assistants) follows the role.
type AccessScopeResolver struct {
	dir      accessDirectory
	hearings hearingLookup
	cfg      AccessScopeConfig
	logger   *zap.Logger
}

// NewAccessScopeResolver constructs the resolver.
func NewAccessScopeResolver(dir accessDirectory, hearings hearingLookup, cfg AccessScopeConfig, logger *zap.Logger) *AccessScopeResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Rules == nil {
		cfg = DefaultAccessScopeConfig()
	}
	return &AccessScopeResolver{dir: dir, hearings: hearings, cfg: cfg, logger: logger}
}

// Resolve computes the access context for this request. It is called fresh
// per request; nothing here is cached across requests.
func (r *AccessScopeResolver) Resolve(ctx context.Context, p models.Principal) (*AccessContext, error) {
	rule := ScopeNone
	if models.KnownRole(p.Role) {
		if configured, ok := r.cfg.Rules[p.Role]; ok {
			rule = configured
		}
	}

	ac := &AccessContext{
		principalID:    p.ID,
		role:           p.Role,
		rule:           rule,
		departmentID:   p.DepartmentID,
		identitySet:    map[string]struct{}{},
		hearingCaseIDs: map[string]struct{}{},
	}
	if rule == ScopeAll || rule == ScopeNone {
		return ac, nil
	}

	identities := []string{p.ID}

	switch p.Role {
	case models.RoleSuperAdmin, models.RoleAdmin, models.RoleAdministration, models.RoleSale:
		// Direct identity only.
	case models.RoleLawyer:
		subordinates, err := r.dir.AssistantsOf(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve subordinate assistants: %w", err)
		}
		identities = append(identities, subordinates...)
	case models.RoleAssistant:
		supervisor := p.SupervisorID
		if supervisor == "" {
			var err error
			supervisor, err = r.dir.SupervisorOf(ctx, p.ID)
			if err != nil {
				return nil, fmt.Errorf("resolve supervisor: %w", err)
			}
		}
		if supervisor != "" {
			identities = append(identities, supervisor)
		}
	default:
		// Unknown roles were already mapped to ScopeNone above.
	}

	ac.identityIDs = identities
	for _, id := range identities {
		ac.identitySet[id] = struct{}{}
	}

	hearingCases, err := r.hearings.CaseIDsWithPresidingLawyer(ctx, identities)
	if err != nil {
		return nil, fmt.Errorf("resolve hearing participation: %w", err)
	}
	for _, id := range hearingCases {
		ac.hearingCaseIDs[id] = struct{}{}
	}

	return ac, nil
}
