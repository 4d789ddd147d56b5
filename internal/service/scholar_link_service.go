package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/crescent-api/internal/dto"
	"github.com/noah-isme/crescent-api/internal/models"
	"github.com/noah-isme/crescent-api/internal/repository"
	appErrors "github.com/noah-isme/crescent-api/pkg/errors"
	"github.com/noah-isme/crescent-api/pkg/export"
)

const exportPageSize = 100

var tracer = otel.Tracer("github.com/noah-isme/crescent-api/internal/service")

type scholarLinkStore interface {
	PendingCodeExists(ctx context.Context, code string, now time.Time) (bool, error)
	CreatePending(ctx context.Context, link *models.ScholarLink) (int64, error)
	FindByID(ctx context.Context, id string) (*models.ScholarLink, error)
	FindVerifiable(ctx context.Context, code, scholarID string, now time.Time) (*models.ScholarLink, error)
	ExistsVerified(ctx context.Context, parentID, scholarID string) (bool, error)
	MarkVerified(ctx context.Context, id, scholarID string, now time.Time) (bool, error)
	RejectPending(ctx context.Context, id, scholarID string, now time.Time) (bool, error)
	RevokePending(ctx context.Context, id, parentID string, now time.Time) (bool, error)
	Unlink(ctx context.Context, id, partyID string, now time.Time) (bool, error)
	ListPendingForScholar(ctx context.Context, scholarID string, now time.Time) ([]models.PendingLinkRow, error)
	ListLinkedParents(ctx context.Context, scholarID string) ([]models.LinkedPartyRow, error)
	ListLinkedScholars(ctx context.Context, parentID string) ([]models.LinkedPartyRow, error)
	ListIssued(ctx context.Context, filter models.ScholarLinkFilter, now time.Time) ([]models.ScholarLink, int, error)
	CountByStatus(ctx context.Context, now time.Time) (models.LinkStats, error)
}

type linkUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type attemptTracker interface {
	Failures(ctx context.Context, scholarID string) (int, error)
	RecordFailure(ctx context.Context, scholarID string, window time.Duration) (int, error)
	Reset(ctx context.Context, scholarID string) error
}

type linkNotifier interface {
	LinkVerified(ctx context.Context, notice LinkVerifiedNotice)
	LinkIssued(ctx context.Context, notice LinkIssuedNotice)
}

// ScholarLinkConfig tunes the link workflow.
type ScholarLinkConfig struct {
	CodeTTL        time.Duration
	MaxVerifyFails int
	AttemptWindow  time.Duration
	StatsCacheTTL  time.Duration
	Generate       CodeGenerator
	Now            func() time.Time
}

// ScholarLinkService implements issuing, verifying and listing parent-scholar links.
type ScholarLinkService struct {
	store     scholarLinkStore
	users     linkUserRepository
	attempts  attemptTracker
	notifier  linkNotifier
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ScholarLinkConfig
}

// NewScholarLinkService constructs the service. attempts and notifier may be nil.
func NewScholarLinkService(
	store scholarLinkStore,
	users linkUserRepository,
	attempts attemptTracker,
	notifier linkNotifier,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ScholarLinkConfig,
) *ScholarLinkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 24 * time.Hour
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 15 * time.Minute
	}
	if cfg.Generate == nil {
		cfg.Generate = RandomLinkCode
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ScholarLinkService{
		store:     store,
		users:     users,
		attempts:  attempts,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Issue generates a fresh link code for the calling parent. Any pending code
// the parent holds for the same target is revoked.
func (s *ScholarLinkService) Issue(ctx context.Context, caller models.Caller, req dto.IssueLinkRequest) (resp *dto.IssueLinkResponse, err error) {
	ctx, span := s.start(ctx, "ScholarLinkService.Issue", caller)
	defer func() { s.finish(span, "issue", err) }()

	if err := Authorize(caller, CapIssue); err != nil {
		return nil, err
	}
	req.ScholarEmail = strings.TrimSpace(req.ScholarEmail)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "scholarEmail must be a valid email")
	}

	var scholar *models.User
	if req.ScholarEmail != "" {
		scholar, err = s.users.FindByEmail(ctx, req.ScholarEmail)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "scholar not found")
			}
			return nil, appErrors.Internal(err, "failed to load scholar")
		}
		if scholar.Role != models.RoleStudent || !scholar.Active {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "scholar not found")
		}
		linked, err := s.store.ExistsVerified(ctx, caller.ID, scholar.ID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check existing link")
		}
		if linked {
			return nil, appErrors.ErrAlreadyLinked
		}
	}

	now := s.now()
	var (
		link       *models.ScholarLink
		superseded int64
	)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := uniqueCode(ctx, s.cfg.Generate, func(ctx context.Context, code string) (bool, error) {
			return s.store.PendingCodeExists(ctx, code, now)
		})
		if err != nil {
			return nil, appErrors.Internal(err, "failed to generate link code")
		}
		candidate := &models.ScholarLink{
			ParentID:  caller.ID,
			LinkCode:  code,
			ExpiresAt: now.Add(s.cfg.CodeTTL),
			CreatedAt: now,
		}
		if scholar != nil {
			candidate.ScholarID = &scholar.ID
		}
		superseded, err = s.store.CreatePending(ctx, candidate)
		if errors.Is(err, repository.ErrPendingConflict) {
			s.logger.Debug("link code collided on insert, regenerating", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, appErrors.Internal(err, "failed to create link")
		}
		link = candidate
		break
	}
	if link == nil {
		return nil, appErrors.Internal(errCodeSpaceExhausted, "failed to generate link code")
	}

	s.audit(ctx, caller, models.AuditActionLinkIssued, link.ID, nil, map[string]interface{}{
		"status":     link.Status,
		"expires_at": link.ExpiresAt,
		"scholar_id": link.ScholarID,
		"superseded": superseded,
	})
	s.cache.Invalidate(ctx, cachePatternLinkStats)

	if scholar != nil && s.notifier != nil {
		parentName := ""
		if parent, err := s.users.FindByID(ctx, caller.ID); err == nil {
			parentName = parent.FullName
		}
		s.notifier.LinkIssued(ctx, LinkIssuedNotice{
			LinkID:       link.ID,
			ParentName:   parentName,
			ScholarName:  scholar.FullName,
			ScholarEmail: scholar.Email,
			ExpiresAt:    link.ExpiresAt,
		})
	}

	s.logger.Info("link code issued",
		zap.String("link_id", link.ID),
		zap.String("parent_id", caller.ID),
		zap.Bool("targeted", scholar != nil),
		zap.Int64("superseded", superseded),
	)

	return &dto.IssueLinkResponse{ID: link.ID, LinkCode: link.LinkCode, ExpiresAt: link.ExpiresAt}, nil
}

// Verify consumes a link code on behalf of the calling scholar. Exactly one
// concurrent caller can win a given code.
func (s *ScholarLinkService) Verify(ctx context.Context, caller models.Caller, req dto.VerifyLinkRequest) (resp *dto.VerifyLinkResponse, err error) {
	ctx, span := s.start(ctx, "ScholarLinkService.Verify", caller)
	defer func() { s.finish(span, "verify", err) }()

	if err := Authorize(caller, CapVerify); err != nil {
		return nil, err
	}
	req.LinkCode = strings.TrimSpace(req.LinkCode)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "linkCode must be 6 digits")
	}

	if s.throttled(ctx, caller.ID) {
		return nil, appErrors.ErrTooManyAttempts
	}

	now := s.now()
	link, err := s.store.FindVerifiable(ctx, req.LinkCode, caller.ID, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordFailure(ctx, caller.ID)
			return nil, appErrors.ErrInvalidOrExpiredCode
		}
		return nil, appErrors.Internal(err, "failed to look up link code")
	}

	linked, err := s.store.ExistsVerified(ctx, link.ParentID, caller.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check existing link")
	}
	if linked {
		// Indistinguishable from a dead code so the response never confirms
		// that the submitted code is live.
		s.recordFailure(ctx, caller.ID)
		return nil, appErrors.ErrInvalidOrExpiredCode
	}

	ok, err := s.store.MarkVerified(ctx, link.ID, caller.ID, now)
	if err != nil {
		if errors.Is(err, repository.ErrPairLinked) {
			s.recordFailure(ctx, caller.ID)
			return nil, appErrors.ErrInvalidOrExpiredCode
		}
		return nil, appErrors.Internal(err, "failed to verify link")
	}
	if !ok {
		s.recordFailure(ctx, caller.ID)
		return nil, appErrors.ErrInvalidOrExpiredCode
	}

	parent, err := s.users.FindByID(ctx, link.ParentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load parent")
	}

	s.audit(ctx, caller, models.AuditActionLinkVerified, link.ID,
		map[string]interface{}{"status": models.LinkStatusPending},
		map[string]interface{}{"status": models.LinkStatusVerified, "scholar_id": caller.ID, "verified_at": now},
	)
	if s.attempts != nil {
		if err := s.attempts.Reset(ctx, caller.ID); err != nil {
			s.logger.Warn("failed to reset verify attempts", zap.String("scholar_id", caller.ID), zap.Error(err))
		}
	}
	s.cache.Invalidate(ctx, cachePatternLinkStats)

	if s.notifier != nil {
		notice := LinkVerifiedNotice{
			LinkID:      link.ID,
			ParentName:  parent.FullName,
			ParentEmail: parent.Email,
			VerifiedAt:  now,
		}
		if scholar, err := s.users.FindByID(ctx, caller.ID); err == nil {
			notice.ScholarName = scholar.FullName
			notice.ScholarEmail = scholar.Email
		}
		s.notifier.LinkVerified(ctx, notice)
	}

	s.logger.Info("link verified", zap.String("link_id", link.ID), zap.String("scholar_id", caller.ID))

	return &dto.VerifyLinkResponse{
		Message: "Link verified successfully",
		Parent:  dto.PartyInfo{ID: parent.ID, Name: parent.FullName, Email: parent.Email},
	}, nil
}

// ListPendingForScholar returns unexpired pending links addressed to the caller.
func (s *ScholarLinkService) ListPendingForScholar(ctx context.Context, caller models.Caller) ([]dto.PendingLink, error) {
	if err := Authorize(caller, CapListPending); err != nil {
		return nil, err
	}
	rows, err := s.store.ListPendingForScholar(ctx, caller.ID, s.now())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list pending links")
	}
	links := make([]dto.PendingLink, 0, len(rows))
	for _, row := range rows {
		links = append(links, dto.PendingLink{
			ID:        row.ID,
			Parent:    dto.PartyInfo{ID: row.ParentID, Name: row.ParentName, Email: row.ParentEmail},
			Status:    string(row.Status),
			ExpiresAt: row.ExpiresAt,
		})
	}
	return links, nil
}

// ListLinkedParents returns the parents verified with the calling scholar.
func (s *ScholarLinkService) ListLinkedParents(ctx context.Context, caller models.Caller) ([]dto.LinkedParty, error) {
	if err := Authorize(caller, CapListParents); err != nil {
		return nil, err
	}
	rows, err := s.store.ListLinkedParents(ctx, caller.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list linked parents")
	}
	return linkedParties(rows), nil
}

// ListLinkedScholars returns the scholars verified with the calling parent.
func (s *ScholarLinkService) ListLinkedScholars(ctx context.Context, caller models.Caller) ([]dto.LinkedParty, error) {
	if err := Authorize(caller, CapListScholars); err != nil {
		return nil, err
	}
	rows, err := s.store.ListLinkedScholars(ctx, caller.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list linked scholars")
	}
	return linkedParties(rows), nil
}

// ListIssued returns the calling parent's links newest first.
func (s *ScholarLinkService) ListIssued(ctx context.Context, caller models.Caller, query dto.ListIssuedQuery) ([]dto.IssuedLink, *models.Pagination, error) {
	if err := Authorize(caller, CapListIssued); err != nil {
		return nil, nil, err
	}
	query.Status = strings.ToUpper(strings.TrimSpace(query.Status))
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query parameters")
	}

	filter := models.ScholarLinkFilter{ParentID: caller.ID, Page: query.Page, PageSize: query.PageSize}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if query.Status != "" {
		status := models.LinkStatus(query.Status)
		filter.Status = &status
	}

	now := s.now()
	links, total, err := s.store.ListIssued(ctx, filter, now)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list issued links")
	}
	return issuedLinks(links, now), &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Reject lets the addressed scholar decline a pending link.
func (s *ScholarLinkService) Reject(ctx context.Context, caller models.Caller, id string) (err error) {
	ctx, span := s.start(ctx, "ScholarLinkService.Reject", caller)
	defer func() { s.finish(span, "reject", err) }()

	if err := Authorize(caller, CapReject); err != nil {
		return err
	}
	ok, err := s.store.RejectPending(ctx, id, caller.ID, s.now())
	if err != nil {
		return appErrors.Internal(err, "failed to reject link")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "pending link not found")
	}
	s.audit(ctx, caller, models.AuditActionLinkRejected, id,
		map[string]interface{}{"status": models.LinkStatusPending},
		map[string]interface{}{"status": models.LinkStatusRejected},
	)
	s.cache.Invalidate(ctx, cachePatternLinkStats)
	return nil
}

// Revoke lets the issuing parent cancel a pending link.
func (s *ScholarLinkService) Revoke(ctx context.Context, caller models.Caller, id string) (err error) {
	ctx, span := s.start(ctx, "ScholarLinkService.Revoke", caller)
	defer func() { s.finish(span, "revoke", err) }()

	if err := Authorize(caller, CapRevoke); err != nil {
		return err
	}
	ok, err := s.store.RevokePending(ctx, id, caller.ID, s.now())
	if err != nil {
		return appErrors.Internal(err, "failed to revoke link")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "pending link not found")
	}
	s.audit(ctx, caller, models.AuditActionLinkRevoked, id,
		map[string]interface{}{"status": models.LinkStatusPending},
		map[string]interface{}{"status": models.LinkStatusRevoked},
	)
	s.cache.Invalidate(ctx, cachePatternLinkStats)
	return nil
}

// Unlink ends a verified link on behalf of either party.
func (s *ScholarLinkService) Unlink(ctx context.Context, caller models.Caller, id string) (err error) {
	ctx, span := s.start(ctx, "ScholarLinkService.Unlink", caller)
	defer func() { s.finish(span, "unlink", err) }()

	if err := Authorize(caller, CapUnlink); err != nil {
		return err
	}
	previous := map[string]interface{}{"status": models.LinkStatusVerified}
	if link, err := s.store.FindByID(ctx, id); err == nil && link.VerifiedAt != nil {
		previous["verified_at"] = *link.VerifiedAt
	}

	now := s.now()
	ok, err := s.store.Unlink(ctx, id, caller.ID, now)
	if err != nil {
		return appErrors.Internal(err, "failed to unlink")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "linked account not found")
	}
	s.audit(ctx, caller, models.AuditActionLinkRevoked, id,
		previous,
		map[string]interface{}{"status": models.LinkStatusRevoked, "reason": "unlink", "unlinked_at": now},
	)
	s.cache.Invalidate(ctx, cachePatternLinkStats)
	return nil
}

// Stats counts links per effective status, served from cache when possible.
func (s *ScholarLinkService) Stats(ctx context.Context, caller models.Caller) (*dto.LinkStatsResponse, bool, error) {
	if err := Authorize(caller, CapStats); err != nil {
		return nil, false, err
	}

	var cached dto.LinkStatsResponse
	if hit, _ := s.cache.Get(ctx, cacheKeyLinkStats, &cached); hit {
		return &cached, true, nil
	}

	start := time.Now()
	stats, err := s.store.CountByStatus(ctx, s.now())
	s.metrics.ObserveDBQuery("links_count_by_status", time.Since(start))
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to count links")
	}
	resp := &dto.LinkStatsResponse{
		Pending:     stats.Pending,
		Verified:    stats.Verified,
		Rejected:    stats.Rejected,
		Revoked:     stats.Revoked,
		Expired:     stats.Expired,
		Total:       stats.Total,
		GeneratedAt: stats.GeneratedAt,
	}
	_ = s.cache.Set(ctx, cacheKeyLinkStats, resp, s.cfg.StatsCacheTTL)
	return resp, false, nil
}

// ExportSlip renders a printable code slip for one of the caller's usable links.
func (s *ScholarLinkService) ExportSlip(ctx context.Context, caller models.Caller, id string, format export.Format) (*export.Document, error) {
	if err := Authorize(caller, CapExport); err != nil {
		return nil, err
	}
	link, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "pending link not found")
		}
		return nil, appErrors.Internal(err, "failed to load link")
	}
	if link.ParentID != caller.ID || !link.Usable(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "pending link not found")
	}
	parent, err := s.users.FindByID(ctx, caller.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load parent")
	}

	base := "link-slip-" + link.LinkCode
	if format == export.FormatPDF {
		body, err := export.NewPDFExporter().RenderSlip(export.Slip{
			ParentName: parent.FullName,
			LinkCode:   link.LinkCode,
			ExpiresAt:  link.ExpiresAt,
			IssuedAt:   link.CreatedAt,
		})
		if err != nil {
			return nil, appErrors.Internal(err, "failed to render slip")
		}
		return &export.Document{Filename: format.Filename(base), ContentType: format.ContentType(), Body: body}, nil
	}

	doc, err := export.Render(format, export.Dataset{
		Title:   "Crescent account link",
		Headers: []string{"Parent", "Link Code", "Issued At", "Expires At"},
		Rows: []map[string]string{{
			"Parent":     parent.FullName,
			"Link Code":  link.LinkCode,
			"Issued At":  link.CreatedAt.UTC().Format(time.RFC3339),
			"Expires At": link.ExpiresAt.UTC().Format(time.RFC3339),
		}},
	}, base)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render slip")
	}
	return doc, nil
}

// ExportIssued renders the caller's full issued history.
func (s *ScholarLinkService) ExportIssued(ctx context.Context, caller models.Caller, format export.Format) (*export.Document, error) {
	if err := Authorize(caller, CapExport); err != nil {
		return nil, err
	}

	now := s.now()
	dataset := export.Dataset{
		Title:   "Issued link codes",
		Headers: []string{"ID", "Link Code", "Status", "Scholar", "Created At", "Expires At", "Verified At", "Unlinked At"},
	}
	for page := 1; ; page++ {
		links, total, err := s.store.ListIssued(ctx, models.ScholarLinkFilter{ParentID: caller.ID, Page: page, PageSize: exportPageSize}, now)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list issued links")
		}
		for _, link := range links {
			row := map[string]string{
				"ID":         link.ID,
				"Link Code":  link.LinkCode,
				"Status":     string(link.EffectiveStatus(now)),
				"Created At": link.CreatedAt.UTC().Format(time.RFC3339),
				"Expires At": link.ExpiresAt.UTC().Format(time.RFC3339),
			}
			if link.ScholarID != nil {
				row["Scholar"] = *link.ScholarID
			}
			if link.VerifiedAt != nil {
				row["Verified At"] = link.VerifiedAt.UTC().Format(time.RFC3339)
			}
			if link.UnlinkedAt != nil {
				row["Unlinked At"] = link.UnlinkedAt.UTC().Format(time.RFC3339)
			}
			dataset.Rows = append(dataset.Rows, row)
		}
		if len(links) < exportPageSize || page*exportPageSize >= total {
			break
		}
	}

	doc, err := export.Render(format, dataset, "issued-links-"+now.UTC().Format("20060102"))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}
	return doc, nil
}

func (s *ScholarLinkService) now() time.Time {
	return s.cfg.Now().UTC()
}

func (s *ScholarLinkService) throttled(ctx context.Context, scholarID string) bool {
	if s.attempts == nil || s.cfg.MaxVerifyFails <= 0 {
		return false
	}
	failures, err := s.attempts.Failures(ctx, scholarID)
	if err != nil {
		s.logger.Warn("failed to read verify attempts", zap.String("scholar_id", scholarID), zap.Error(err))
		return false
	}
	return failures >= s.cfg.MaxVerifyFails
}

func (s *ScholarLinkService) recordFailure(ctx context.Context, scholarID string) {
	if s.attempts == nil || s.cfg.MaxVerifyFails <= 0 {
		return
	}
	if _, err := s.attempts.RecordFailure(ctx, scholarID, s.cfg.AttemptWindow); err != nil {
		s.logger.Warn("failed to record verify attempt", zap.String("scholar_id", scholarID), zap.Error(err))
	}
}

func (s *ScholarLinkService) audit(ctx context.Context, caller models.Caller, action, linkID string, oldValues, newValues map[string]interface{}) {
	userID := caller.ID
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   models.AuditResourceScholarLink,
		ResourceID: &linkID,
		OldValues:  auditJSON(oldValues),
		NewValues:  auditJSON(newValues),
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record link audit log", zap.String("action", action), zap.String("link_id", linkID), zap.Error(err))
	}
}

func (s *ScholarLinkService) start(ctx context.Context, name string, caller models.Caller) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("caller.id", caller.ID),
		attribute.String("caller.role", string(caller.Role)),
	))
}

func (s *ScholarLinkService) finish(span trace.Span, operation string, err error) {
	defer span.End()
	outcome := OutcomeSuccess
	if err != nil {
		if appErrors.FromError(err).Status >= 500 {
			outcome = OutcomeError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			outcome = OutcomeRejected
		}
	}
	span.SetAttributes(attribute.String("link.outcome", outcome))
	s.metrics.RecordLinkOperation(operation, outcome)
}

func auditJSON(values map[string]interface{}) *string {
	if len(values) == 0 {
		return nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	encoded := string(raw)
	return &encoded
}

func linkedParties(rows []models.LinkedPartyRow) []dto.LinkedParty {
	parties := make([]dto.LinkedParty, 0, len(rows))
	for _, row := range rows {
		parties = append(parties, dto.LinkedParty{
			ID:       row.LinkID,
			UserID:   row.UserID,
			Name:     row.Name,
			Email:    row.Email,
			LinkedAt: row.LinkedAt,
		})
	}
	return parties
}

func issuedLinks(links []models.ScholarLink, now time.Time) []dto.IssuedLink {
	out := make([]dto.IssuedLink, 0, len(links))
	for i := range links {
		link := links[i]
		out = append(out, dto.IssuedLink{
			ID:         link.ID,
			LinkCode:   link.LinkCode,
			Status:     string(link.EffectiveStatus(now)),
			ScholarID:  link.ScholarID,
			ExpiresAt:  link.ExpiresAt,
			VerifiedAt: link.VerifiedAt,
			UnlinkedAt: link.UnlinkedAt,
			CreatedAt:  link.CreatedAt,
		})
	}
	return out
}
