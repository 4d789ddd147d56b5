package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/crescent-api/internal/models"
)

const scholarLinkColumns = `id, parent_id, scholar_id, link_code, status, expires_at, verified_at, created_at, updated_at, unlinked_at`

// ScholarLinkRepository persists parent-scholar link records. Every status
// transition is a conditional UPDATE guarded on the current status, so callers
// learn from the affected row count whether they won the transition.
type ScholarLinkRepository struct {
	db *sqlx.DB
}

// NewScholarLinkRepository constructs the repository.
func NewScholarLinkRepository(db *sqlx.DB) *ScholarLinkRepository {
	return &ScholarLinkRepository{db: db}
}

// PendingCodeExists reports whether an unexpired pending link holds code.
func (r *ScholarLinkRepository) PendingCodeExists(ctx context.Context, code string, now time.Time) (bool, error) {
	query := r.db.Rebind(`SELECT COUNT(1) FROM scholar_links WHERE link_code = ? AND status = ? AND expires_at > ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, code, models.LinkStatusPending, now); err != nil {
		return false, fmt.Errorf("check pending code: %w", err)
	}
	return count > 0, nil
}

// CreatePending inserts a new pending link. In the same transaction it expires
// overdue pending rows that hold the code or belong to the parent, then revokes
// the parent's previous live pending link for the same target. It returns how
// many live links were superseded.
func (r *ScholarLinkRepository) CreatePending(ctx context.Context, link *models.ScholarLink) (int64, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := link.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	link.Status = models.LinkStatusPending
	link.VerifiedAt = nil
	link.UnlinkedAt = nil

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create link: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	expireStale := tx.Rebind(`UPDATE scholar_links SET status = ?, updated_at = ? WHERE status = ? AND expires_at <= ? AND (link_code = ? OR parent_id = ?)`)
	if _, err := tx.ExecContext(ctx, expireStale, models.LinkStatusExpired, now, models.LinkStatusPending, now, link.LinkCode, link.ParentID); err != nil {
		return 0, fmt.Errorf("expire stale pending links: %w", err)
	}

	target := ""
	if link.ScholarID != nil {
		target = *link.ScholarID
	}
	supersede := tx.Rebind(`UPDATE scholar_links SET status = ?, updated_at = ? WHERE parent_id = ? AND status = ? AND expires_at > ? AND COALESCE(scholar_id, '') = ?`)
	res, err := tx.ExecContext(ctx, supersede, models.LinkStatusRevoked, now, link.ParentID, models.LinkStatusPending, now, target)
	if err != nil {
		return 0, fmt.Errorf("supersede pending links: %w", err)
	}
	superseded, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("superseded rows: %w", err)
	}

	insert := tx.Rebind(`INSERT INTO scholar_links (` + scholarLinkColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, link.ID, link.ParentID, link.ScholarID, link.LinkCode, link.Status, link.ExpiresAt, link.VerifiedAt, link.CreatedAt, link.UpdatedAt, link.UnlinkedAt); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrPendingConflict
		}
		return 0, fmt.Errorf("insert link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrPendingConflict
		}
		return 0, fmt.Errorf("commit create link: %w", err)
	}
	committed = true
	return superseded, nil
}

// FindByID returns a link by identifier.
func (r *ScholarLinkRepository) FindByID(ctx context.Context, id string) (*models.ScholarLink, error) {
	query := r.db.Rebind(`SELECT ` + scholarLinkColumns + ` FROM scholar_links WHERE id = ?`)
	var link models.ScholarLink
	if err := r.db.GetContext(ctx, &link, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find link by id: %w", err)
	}
	return &link, nil
}

// FindVerifiable locates the pending, unexpired link holding code that the
// scholar may verify: either untargeted or addressed to scholarID.
func (r *ScholarLinkRepository) FindVerifiable(ctx context.Context, code, scholarID string, now time.Time) (*models.ScholarLink, error) {
	query := r.db.Rebind(`SELECT ` + scholarLinkColumns + ` FROM scholar_links
WHERE link_code = ? AND status = ? AND expires_at > ? AND (scholar_id IS NULL OR scholar_id = ?)`)
	var link models.ScholarLink
	if err := r.db.GetContext(ctx, &link, query, code, models.LinkStatusPending, now, scholarID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find verifiable link: %w", err)
	}
	return &link, nil
}

// ExistsVerified reports whether parent and scholar already share a verified link.
func (r *ScholarLinkRepository) ExistsVerified(ctx context.Context, parentID, scholarID string) (bool, error) {
	query := r.db.Rebind(`SELECT COUNT(1) FROM scholar_links WHERE parent_id = ? AND scholar_id = ? AND status = ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, parentID, scholarID, models.LinkStatusVerified); err != nil {
		return false, fmt.Errorf("check verified pair: %w", err)
	}
	return count > 0, nil
}

// MarkVerified moves a pending link to VERIFIED for scholarID. It returns false
// when the link was no longer pending, had expired, or is addressed to another
// scholar by the time the update ran.
func (r *ScholarLinkRepository) MarkVerified(ctx context.Context, id, scholarID string, now time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE scholar_links SET status = ?, scholar_id = ?, verified_at = ?, updated_at = ?
WHERE id = ? AND status = ? AND expires_at > ? AND (scholar_id IS NULL OR scholar_id = ?)`)
	res, err := r.db.ExecContext(ctx, query, models.LinkStatusVerified, scholarID, now, now, id, models.LinkStatusPending, now, scholarID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrPairLinked
		}
		return false, fmt.Errorf("mark link verified: %w", err)
	}
	return affectedOne(res, "mark link verified")
}

// RejectPending lets the addressed scholar decline an unexpired pending link.
func (r *ScholarLinkRepository) RejectPending(ctx context.Context, id, scholarID string, now time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE scholar_links SET status = ?, updated_at = ? WHERE id = ? AND scholar_id = ? AND status = ? AND expires_at > ?`)
	res, err := r.db.ExecContext(ctx, query, models.LinkStatusRejected, now, id, scholarID, models.LinkStatusPending, now)
	if err != nil {
		return false, fmt.Errorf("reject link: %w", err)
	}
	return affectedOne(res, "reject link")
}

// RevokePending lets the issuing parent cancel an unexpired pending link.
func (r *ScholarLinkRepository) RevokePending(ctx context.Context, id, parentID string, now time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE scholar_links SET status = ?, updated_at = ? WHERE id = ? AND parent_id = ? AND status = ? AND expires_at > ?`)
	res, err := r.db.ExecContext(ctx, query, models.LinkStatusRevoked, now, id, parentID, models.LinkStatusPending, now)
	if err != nil {
		return false, fmt.Errorf("revoke link: %w", err)
	}
	return affectedOne(res, "revoke link")
}

// Unlink ends a verified link on behalf of either party. verified_at is
// cleared and the end of the relationship is stamped in unlinked_at.
func (r *ScholarLinkRepository) Unlink(ctx context.Context, id, partyID string, now time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE scholar_links SET status = ?, verified_at = NULL, unlinked_at = ?, updated_at = ? WHERE id = ? AND status = ? AND (parent_id = ? OR scholar_id = ?)`)
	res, err := r.db.ExecContext(ctx, query, models.LinkStatusRevoked, now, now, id, models.LinkStatusVerified, partyID, partyID)
	if err != nil {
		return false, fmt.Errorf("unlink: %w", err)
	}
	return affectedOne(res, "unlink")
}

// ListPendingForScholar returns unexpired pending links addressed to the scholar.
func (r *ScholarLinkRepository) ListPendingForScholar(ctx context.Context, scholarID string, now time.Time) ([]models.PendingLinkRow, error) {
	query := r.db.Rebind(`SELECT l.id, l.status, l.expires_at, l.created_at, p.id AS parent_id, p.full_name AS parent_name, p.email AS parent_email
FROM scholar_links l
JOIN users p ON p.id = l.parent_id
WHERE l.scholar_id = ? AND l.status = ? AND l.expires_at > ?
ORDER BY l.created_at DESC`)
	rows := make([]models.PendingLinkRow, 0)
	if err := r.db.SelectContext(ctx, &rows, query, scholarID, models.LinkStatusPending, now); err != nil {
		return nil, fmt.Errorf("list pending links: %w", err)
	}
	return rows, nil
}

// ListLinkedParents returns the parents a scholar is verified with.
func (r *ScholarLinkRepository) ListLinkedParents(ctx context.Context, scholarID string) ([]models.LinkedPartyRow, error) {
	query := r.db.Rebind(`SELECT l.id AS link_id, u.id AS user_id, u.full_name, u.email, l.verified_at
FROM scholar_links l
JOIN users u ON u.id = l.parent_id
WHERE l.scholar_id = ? AND l.status = ?
ORDER BY l.verified_at DESC`)
	rows := make([]models.LinkedPartyRow, 0)
	if err := r.db.SelectContext(ctx, &rows, query, scholarID, models.LinkStatusVerified); err != nil {
		return nil, fmt.Errorf("list linked parents: %w", err)
	}
	return rows, nil
}

// ListLinkedScholars returns the scholars a parent is verified with.
func (r *ScholarLinkRepository) ListLinkedScholars(ctx context.Context, parentID string) ([]models.LinkedPartyRow, error) {
	query := r.db.Rebind(`SELECT l.id AS link_id, u.id AS user_id, u.full_name, u.email, l.verified_at
FROM scholar_links l
JOIN users u ON u.id = l.scholar_id
WHERE l.parent_id = ? AND l.status = ?
ORDER BY l.verified_at DESC`)
	rows := make([]models.LinkedPartyRow, 0)
	if err := r.db.SelectContext(ctx, &rows, query, parentID, models.LinkStatusVerified); err != nil {
		return nil, fmt.Errorf("list linked scholars: %w", err)
	}
	return rows, nil
}

// ListIssued returns a parent's links newest first together with the total
// count. A status filter is applied to the effective status, so PENDING
// excludes expired rows and EXPIRED includes them.
func (r *ScholarLinkRepository) ListIssued(ctx context.Context, filter models.ScholarLinkFilter, now time.Time) ([]models.ScholarLink, int, error) {
	conditions := []string{"parent_id = ?"}
	args := []interface{}{filter.ParentID}

	if filter.Status != nil {
		switch *filter.Status {
		case models.LinkStatusPending:
			conditions = append(conditions, "status = ? AND expires_at > ?")
			args = append(args, models.LinkStatusPending, now)
		case models.LinkStatusExpired:
			conditions = append(conditions, "(status = ? OR (status = ? AND expires_at <= ?))")
			args = append(args, models.LinkStatusExpired, models.LinkStatusPending, now)
		default:
			conditions = append(conditions, "status = ?")
			args = append(args, *filter.Status)
		}
	}

	where := " FROM scholar_links WHERE " + strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := r.db.Rebind(fmt.Sprintf("SELECT %s%s ORDER BY created_at DESC LIMIT %d OFFSET %d", scholarLinkColumns, where, pageSize, offset))
	links := make([]models.ScholarLink, 0)
	if err := r.db.SelectContext(ctx, &links, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list issued links: %w", err)
	}

	countQuery := r.db.Rebind("SELECT COUNT(*)" + where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count issued links: %w", err)
	}

	return links, total, nil
}

// ExpirePending materialises expiry for pending links past their deadline and
// returns the affected ids.
func (r *ScholarLinkRepository) ExpirePending(ctx context.Context, now time.Time) ([]string, error) {
	query := r.db.Rebind(`UPDATE scholar_links SET status = ?, updated_at = ? WHERE status = ? AND expires_at <= ? RETURNING id`)
	ids := make([]string, 0)
	if err := r.db.SelectContext(ctx, &ids, query, models.LinkStatusExpired, now, models.LinkStatusPending, now); err != nil {
		return nil, fmt.Errorf("expire pending links: %w", err)
	}
	return ids, nil
}

type statusCount struct {
	Status models.LinkStatus `db:"status"`
	Total  int               `db:"total"`
}

// CountByStatus tallies links per effective status.
func (r *ScholarLinkRepository) CountByStatus(ctx context.Context, now time.Time) (models.LinkStats, error) {
	query := r.db.Rebind(`SELECT CASE WHEN status = ? AND expires_at <= ? THEN ? ELSE status END AS status, COUNT(*) AS total
FROM scholar_links GROUP BY 1`)
	var counts []statusCount
	if err := r.db.SelectContext(ctx, &counts, query, models.LinkStatusPending, now, models.LinkStatusExpired); err != nil {
		return models.LinkStats{}, fmt.Errorf("count links by status: %w", err)
	}
	stats := models.LinkStats{GeneratedAt: now}
	for _, c := range counts {
		stats.Set(c.Status, c.Total)
	}
	return stats, nil
}

func affectedOne(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n == 1, nil
}
