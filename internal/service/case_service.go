package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lexora/lexora-api/internal/dto"
	"github.com/lexora/lexora-api/internal/models"
	"github.com/lexora/lexora-api/internal/repository"
	appErrors "github.com/lexora/lexora-api/pkg/errors"
)

type caseStore interface {
	GetByID(ctx context.Context, id string) (*models.LegalCase, error)
	GetDetail(ctx context.Context, id string) (*models.CaseDetail, error)
	List(ctx context.Context, filter models.CaseFilter, pred repository.AccessPredicate) ([]models.CaseSummary, int, error)
	ExecuteUpdate(ctx context.Context, params repository.UpdateCaseParams) (*models.CaseDetail, error)
	ListCaseLogs(ctx context.Context, caseID string) ([]models.CaseLog, error)
}

type updateMetrics interface {
	RecordUpdateOutcome(outcome string)
	RecordCASRetry()
	RecordCacheOperation(hit bool)
}

type caseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const (
	hardConflictMessage      = "case was modified by another user; conflicting fields require manual resolution"
	mergeableConflictMessage = "case was modified by another user; resubmit with resolveMode=merge to apply your non-conflicting changes"
)

// CaseService orchestrates scoped reads and version-guarded case updates:
// resolve access, analyze the conflict, attempt the conditional write, and on
// a lost race re-analyze once against the freshest row.
type CaseService struct {
	repo     caseStore
	cache    caseCache
	scopes   *AccessScopeResolver
	analyzer *ConflictAnalyzer
	changes  *ChangeLogger
	metrics  updateMetrics
	logger   *zap.Logger
	listTTL  time.Duration
}

// NewCaseService constructs the service. The cache is optional.
func NewCaseService(repo caseStore, cache caseCache, scopes *AccessScopeResolver, logger *zap.Logger, listTTL time.Duration) *CaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if listTTL <= 0 {
		listTTL = 30 * time.Second
	}
	return &CaseService{
		repo:     repo,
		cache:    cache,
		scopes:   scopes,
		analyzer: NewConflictAnalyzer(),
		changes:  NewChangeLogger(),
		logger:   logger,
		listTTL:  listTTL,
	}
}

// SetMetrics attaches the optional metrics sink.
func (s *CaseService) SetMetrics(m updateMetrics) {
	s.metrics = m
}

// Get returns one case if the principal may see it. Inaccessible cases read
// as not found; existence is never confirmed beyond that.
func (s *CaseService) Get(ctx context.Context, caseID string, claims *models.JWTClaims) (*dto.CaseResponse, error) {
	detail, _, err := s.loadAccessible(ctx, caseID, claims)
	if err != nil {
		return nil, err
	}
	return dto.NewCaseResponse(detail), nil
}

// List returns scoped case summaries with pagination, served from cache when
// fresh.
func (s *CaseService) List(ctx context.Context, filter models.CaseFilter, claims *models.JWTClaims) ([]dto.CaseListItem, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	access, err := s.scopes.Resolve(ctx, claims.Principal())
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve access scope")
	}
	if access.Empty() {
		return []dto.CaseListItem{}, &models.Pagination{Page: 1, PageSize: filter.PageSize, TotalCount: 0}, nil
	}

	type cachedList struct {
		Items      []dto.CaseListItem `json:"items"`
		Pagination models.Pagination  `json:"pagination"`
	}
	key := fmt.Sprintf("cases:list:%s:%s:%s:%s:%s:%d:%d:%s:%s",
		claims.UserID, filter.Status, filter.DepartmentID, filter.HandlerID,
		filter.Search, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
	if s.cache != nil {
		var cached cachedList
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(true)
			}
			return cached.Items, &cached.Pagination, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
	}

	pred := repository.AccessPredicate{}
	if clause, args, filtered := access.QueryPredicate(); filtered {
		pred.Clause = clause
		pred.Args = args
	}

	rows, total, err := s.repo.List(ctx, filter, pred)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cases")
	}

	items := make([]dto.CaseListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.NewCaseListItem(row))
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedList{Items: items, Pagination: *pagination}, s.listTTL); err != nil {
			s.logger.Warn("case list cache write failed", zap.Error(err))
		}
	}
	return items, pagination, nil
}

// Logs returns the case's audit trail, newest first.
func (s *CaseService) Logs(ctx context.Context, caseID string, claims *models.JWTClaims) ([]dto.CaseLogItem, error) {
	if _, _, err := s.loadAccessible(ctx, caseID, claims); err != nil {
		return nil, err
	}
	logs, err := s.repo.ListCaseLogs(ctx, caseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case logs")
	}
	items := make([]dto.CaseLogItem, 0, len(logs))
	for _, log := range logs {
		items = append(items, dto.NewCaseLogItem(log))
	}
	return items, nil
}

// Update applies a version-guarded case update. Access is checked before
// anything else, the conflict analysis runs before any transaction opens, and
// the write itself is a compare-and-swap inside one transaction. A lost race
// triggers exactly one re-analysis against the freshest row.
func (s *CaseService) Update(ctx context.Context, caseID string, req dto.UpdateCaseRequest, claims *models.JWTClaims) (*dto.CaseResponse, error) {
	// Shape errors fail fast, before any row is read or transaction opened.
	sets, err := scalarSets(&req.Payload)
	if err != nil {
		return nil, err
	}
	collections := collectionReplacements(&req.Payload)

	access, err := s.resolveScope(ctx, claims)
	if err != nil {
		return nil, err
	}
	if access.Empty() {
		// Mutations by scopeless principals are refused outright, before any
		// row is read. Reads stay a generic not-found.
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no case access")
	}
	detail, err := s.loadVisible(ctx, caseID, access)
	if err != nil {
		return nil, err
	}

	result := s.analyzer.Analyze(&detail.LegalCase, req.Meta, &req.Payload)
	if err := s.rejectConflicting(detail, req.Meta, result); err != nil {
		s.recordConflictOutcome(err)
		return nil, err
	}
	mergeWriteSets(sets, result)

	if len(sets) == 0 && len(collections.Touched()) == 0 {
		// Nothing to write; a stale-but-clean client just gets current state.
		return dto.NewCaseResponse(detail), nil
	}

	action := models.CaseLogActionUpdate
	if result.Status == ConflictStatusMergeable {
		action = models.CaseLogActionMerge
	}

	updated, err := s.repo.ExecuteUpdate(ctx, repository.UpdateCaseParams{
		CaseID:          caseID,
		ExpectedVersion: detail.Version,
		Sets:            sets,
		Collections:     collections,
		ActorID:         claims.UserID,
		OnRace: func(fresh *models.LegalCase) error {
			if s.metrics != nil {
				s.metrics.RecordCASRetry()
			}
			second := s.analyzer.Analyze(fresh, req.Meta, &req.Payload)
			if second.Status == ConflictStatusMergeable {
				action = models.CaseLogActionMerge
			}
			if err := s.rejectConflictingRow(fresh, req.Meta, second); err != nil {
				return err
			}
			mergeWriteSets(sets, second)
			return nil
		},
		BuildLog: func(before, after *models.LegalCase) (*models.CaseLog, error) {
			return s.buildCaseLog(before, after, detail.DisplayNames(), collections.Touched(), claims, action)
		},
	})
	if err != nil {
		mapped := s.mapUpdateError(ctx, caseID, req, err)
		s.recordConflictOutcome(mapped)
		return nil, mapped
	}

	if s.metrics != nil {
		if action == models.CaseLogActionMerge {
			s.metrics.RecordUpdateOutcome("merged")
		} else {
			s.metrics.RecordUpdateOutcome("applied")
		}
	}
	s.invalidateListCache(ctx)
	return dto.NewCaseResponse(updated), nil
}

func (s *CaseService) recordConflictOutcome(err error) {
	if s.metrics == nil {
		return
	}
	var conflictErr *appErrors.ConflictError
	if !errors.As(err, &conflictErr) {
		return
	}
	if detail, ok := conflictErr.Detail.(*dto.CaseConflict); ok && detail.Type == "mergeable" {
		s.metrics.RecordUpdateOutcome("mergeable_conflict")
		return
	}
	s.metrics.RecordUpdateOutcome("hard_conflict")
}

func (s *CaseService) resolveScope(ctx context.Context, claims *models.JWTClaims) (*AccessContext, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	access, err := s.scopes.Resolve(ctx, claims.Principal())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve access scope")
	}
	return access, nil
}

// loadVisible loads the case for an already-resolved scope, mapping both
// "does not exist" and "not visible" to the same generic not-found.
func (s *CaseService) loadVisible(ctx context.Context, caseID string, access *AccessContext) (*models.CaseDetail, error) {
	detail, err := s.repo.GetDetail(ctx, caseID)
	if err != nil {
		if errors.Is(err, repository.ErrCaseNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
	}
	if !access.CanAccess(detail.AccessView()) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
	}
	return detail, nil
}

func (s *CaseService) loadAccessible(ctx context.Context, caseID string, claims *models.JWTClaims) (*models.CaseDetail, *AccessContext, error) {
	access, err := s.resolveScope(ctx, claims)
	if err != nil {
		return nil, nil, err
	}
	detail, err := s.loadVisible(ctx, caseID, access)
	if err != nil {
		return nil, nil, err
	}
	return detail, access, nil
}

func (s *CaseService) rejectConflicting(detail *models.CaseDetail, meta *dto.UpdateMeta, result ConflictResult) error {
	conflict := s.conflictDetail(&detail.LegalCase, meta, result)
	if conflict == nil {
		return nil
	}
	if detail.UpdatedByName.Valid {
		conflict.UpdatedByName = detail.UpdatedByName.String
	}
	if detail.UpdatedByRole.Valid {
		conflict.UpdatedByRole = detail.UpdatedByRole.String
	}
	return appErrors.NewConflict(conflict.Message, conflict)
}

// rejectConflictingRow is the in-transaction variant working from a bare row;
// display names are attached after rollback by mapUpdateError.
func (s *CaseService) rejectConflictingRow(row *models.LegalCase, meta *dto.UpdateMeta, result ConflictResult) error {
	conflict := s.conflictDetail(row, meta, result)
	if conflict == nil {
		return nil
	}
	return appErrors.NewConflict(conflict.Message, conflict)
}

// conflictDetail renders the analysis as the structured 409 body, or nil when
// the update may proceed.
func (s *CaseService) conflictDetail(row *models.LegalCase, meta *dto.UpdateMeta, result ConflictResult) *dto.CaseConflict {
	var conflictType, message string
	switch result.Status {
	case ConflictStatusHard:
		conflictType = "hard"
		message = hardConflictMessage
	case ConflictStatusMergeable:
		if meta != nil && meta.ResolveMode == dto.ResolveModeMerge {
			return nil
		}
		conflictType = "mergeable"
		message = mergeableConflictMessage
	default:
		return nil
	}

	detail := &dto.CaseConflict{
		Type:              conflictType,
		Message:           message,
		CaseID:            row.ID,
		LatestVersion:     row.Version,
		RemoteChanges:     fieldDeltas(result.RemoteChanges, false),
		ClientChanges:     fieldDeltas(result.ClientChanges, true),
		ConflictingFields: append([]string{}, result.ConflictingFields...),
		UpdatedAt:         row.UpdatedAt,
	}
	if meta != nil && meta.BaseVersion != nil {
		detail.BaseVersion = *meta.BaseVersion
	}
	if row.UpdatedByID != nil {
		detail.UpdatedByID = *row.UpdatedByID
	}
	return detail
}

// mergeWriteSets narrows a merge-mode write to the fields the analyzer saw
// the client actually change. Everything else in the payload is the client's
// stale copy; writing it back would revert the winning writer's values.
func mergeWriteSets(sets map[string]interface{}, result ConflictResult) {
	if result.Status != ConflictStatusMergeable {
		return
	}
	changed := make(map[string]struct{}, len(result.ClientChanges))
	for _, ch := range result.ClientChanges {
		changed[ch.Field] = struct{}{}
	}
	for field := range sets {
		if _, ok := changed[field]; !ok {
			delete(sets, field)
		}
	}
}

func fieldDeltas(changes []FieldChange, client bool) []dto.FieldDelta {
	deltas := make([]dto.FieldDelta, 0, len(changes))
	for _, ch := range changes {
		delta := dto.FieldDelta{Field: ch.Field, Label: ch.Label, BaseValue: ch.BaseValue}
		if client {
			delta.ClientValue = ch.ClientValue
		} else {
			delta.RemoteValue = ch.RemoteValue
		}
		deltas = append(deltas, delta)
	}
	return deltas
}

// mapUpdateError translates transaction failures. Conflicts detected inside
// the transaction are enriched with display names from a fresh read; a second
// CAS loss within the request surfaces as a hard conflict rather than a retry.
func (s *CaseService) mapUpdateError(ctx context.Context, caseID string, req dto.UpdateCaseRequest, err error) error {
	var conflictErr *appErrors.ConflictError
	if errors.As(err, &conflictErr) {
		s.enrichConflict(ctx, caseID, conflictErr)
		return conflictErr
	}
	if errors.Is(err, repository.ErrVersionRace) {
		fresh, ferr := s.repo.GetDetail(ctx, caseID)
		if ferr != nil {
			return appErrors.Wrap(ferr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "case changed during write and re-read failed")
		}
		// A second CAS loss is terminal; this analysis only furnishes the
		// field-level report, it never reopens the write.
		report := s.analyzer.Analyze(&fresh.LegalCase, req.Meta, &req.Payload)
		report.Status = ConflictStatusHard
		conflict := s.conflictDetail(&fresh.LegalCase, req.Meta, report)
		if fresh.UpdatedByName.Valid {
			conflict.UpdatedByName = fresh.UpdatedByName.String
		}
		if fresh.UpdatedByRole.Valid {
			conflict.UpdatedByRole = fresh.UpdatedByRole.String
		}
		return appErrors.NewConflict(conflict.Message, conflict)
	}
	if errors.Is(err, repository.ErrCaseNotFound) {
		// The row existed at analysis time; vanishing mid-write is an
		// invariant violation, not a user error.
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "case disappeared during update")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update case")
}

func (s *CaseService) enrichConflict(ctx context.Context, caseID string, conflictErr *appErrors.ConflictError) {
	detail, ok := conflictErr.Detail.(*dto.CaseConflict)
	if !ok || detail.UpdatedByName != "" {
		return
	}
	fresh, err := s.repo.GetDetail(ctx, caseID)
	if err != nil {
		s.logger.Warn("conflict enrichment read failed", zap.String("case_id", caseID), zap.Error(err))
		return
	}
	if fresh.Version < detail.LatestVersion {
		// Versions only grow; an older read cannot describe the row that won.
		return
	}
	detail.LatestVersion = fresh.Version
	detail.UpdatedAt = fresh.UpdatedAt
	if fresh.UpdatedByID != nil {
		detail.UpdatedByID = *fresh.UpdatedByID
	}
	if fresh.UpdatedByName.Valid {
		detail.UpdatedByName = fresh.UpdatedByName.String
	}
	if fresh.UpdatedByRole.Valid {
		detail.UpdatedByRole = fresh.UpdatedByRole.String
	}
}

func (s *CaseService) buildCaseLog(before, after *models.LegalCase, names map[string]string, replaced []string, claims *models.JWTClaims, action string) (*models.CaseLog, error) {
	diff := s.changes.Diff(before, after, names)
	description := s.changes.Describe(diff)
	if collectionDesc := s.changes.DescribeCollections(replaced); collectionDesc != "" {
		if description == "" {
			description = collectionDesc
		} else {
			description = description + "; " + collectionDesc
		}
	}
	if description == "" {
		return nil, nil
	}
	details, err := json.Marshal(diff)
	if err != nil {
		return nil, fmt.Errorf("encode change details: %w", err)
	}
	actorID := claims.UserID
	return &models.CaseLog{
		CaseID:      after.ID,
		ActorID:     &actorID,
		ActorName:   claims.FullName,
		ActorRole:   string(claims.Role),
		Action:      action,
		Description: description,
		Details:     details,
	}, nil
}

func (s *CaseService) invalidateListCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "cases:list:*"); err != nil {
		s.logger.Warn("case list cache invalidation failed", zap.Error(err))
	}
}

// scalarSets converts the payload into typed column values, rejecting
// malformed input before any transaction opens.
func scalarSets(p *dto.CasePayload) (map[string]interface{}, error) {
	sets := make(map[string]interface{})
	for field, value := range p.ScalarValues() {
		switch field {
		case "accepted_at", "closed_at":
			raw, _ := value.(string)
			parsed, err := parseDateValue(raw)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid date for %s: %q", field, raw))
			}
			sets[field] = parsed
		case "status":
			status, _ := value.(string)
			switch status {
			case models.CaseStatusIntake, models.CaseStatusActive, models.CaseStatusSuspended, models.CaseStatusClosed:
				sets[field] = status
			default:
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown case status %q", status))
			}
		case "case_amount", "paid_amount":
			amount, _ := value.(float64)
			if amount < 0 {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must not be negative", field))
			}
			sets[field] = amount
		case "department_id", "handler_id", "assistant_id", "sales_id":
			id, _ := value.(string)
			if id == "" {
				sets[field] = nil
			} else {
				sets[field] = id
			}
		default:
			sets[field] = value
		}
	}
	return sets, nil
}

func parseDateValue(raw string) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return nil, fmt.Errorf("unparseable date %q", raw)
}

// collectionReplacements converts submitted sub-collections; presence of a
// key (even an empty array) means wholesale replacement.
func collectionReplacements(p *dto.CasePayload) repository.CollectionReplacements {
	var out repository.CollectionReplacements
	if p.Participants != nil {
		items := make([]models.CaseParticipant, 0, len(*p.Participants))
		for _, in := range *p.Participants {
			items = append(items, models.CaseParticipant{Name: in.Name, Role: in.Role, Phone: in.Phone, IDNumber: in.IDNumber})
		}
		out.Participants = &items
	}
	if p.Payments != nil {
		items := make([]models.CasePayment, 0, len(*p.Payments))
		for _, in := range *p.Payments {
			items = append(items, models.CasePayment{Amount: in.Amount, PaidAt: in.PaidAt, Method: in.Method, Note: in.Note})
		}
		out.Payments = &items
	}
	if p.Timeline != nil {
		items := make([]models.CaseTimelineEntry, 0, len(*p.Timeline))
		for _, in := range *p.Timeline {
			items = append(items, models.CaseTimelineEntry{OccurredAt: in.OccurredAt, Title: in.Title, Content: in.Content})
		}
		out.Timeline = &items
	}
	if p.Hearings != nil {
		items := make([]models.CaseHearing, 0, len(*p.Hearings))
		for _, in := range *p.Hearings {
			items = append(items, models.CaseHearing{ScheduledAt: in.ScheduledAt, Courtroom: in.Courtroom, PresidingLawyerID: in.PresidingLawyerID, Note: in.Note})
		}
		out.Hearings = &items
	}
	return out
}
