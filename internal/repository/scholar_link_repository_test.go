package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/crescent-api/internal/models"
)

var linkRowColumns = []string{"id", "parent_id", "scholar_id", "link_code", "status", "expires_at", "verified_at", "created_at", "updated_at", "unlinked_at"}

func TestCreatePendingSupersedesInTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	link := &models.ScholarLink{ParentID: "p1", LinkCode: "482913", ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE status = ? AND expires_at <= ? AND (link_code = ? OR parent_id = ?)")).
		WithArgs(models.LinkStatusExpired, now, models.LinkStatusPending, now, "482913", "p1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("WHERE parent_id = ? AND status = ? AND expires_at > ? AND COALESCE(scholar_id, '') = ?")).
		WithArgs(models.LinkStatusRevoked, now, "p1", models.LinkStatusPending, now, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO scholar_links").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	superseded, err := repo.CreatePending(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, int64(1), superseded)
	assert.NotEmpty(t, link.ID)
	assert.Equal(t, models.LinkStatusPending, link.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePendingUniqueViolationRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE scholar_links").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE scholar_links").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO scholar_links").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.CreatePending(context.Background(), &models.ScholarLink{ParentID: "p1", LinkCode: "111111", ExpiresAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, ErrPendingConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkVerifiedZeroRowsIsNotAWin(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND status = ? AND expires_at > ? AND (scholar_id IS NULL OR scholar_id = ?)")).
		WithArgs(models.LinkStatusVerified, "s1", now, now, "l1", models.LinkStatusPending, now, "s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkVerified(context.Background(), "l1", "s1", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkVerifiedPairConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	mock.ExpectExec("UPDATE scholar_links SET status").WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.MarkVerified(context.Background(), "l1", "s1", time.Now())
	assert.True(t, errors.Is(err, ErrPairLinked))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlinkClearsVerifiedAt(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("SET status = ?, verified_at = NULL, unlinked_at = ?, updated_at = ? WHERE id = ? AND status = ?")).
		WithArgs(models.LinkStatusRevoked, now, now, "l1", models.LinkStatusVerified, "p1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Unlink(context.Background(), "l1", "p1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindVerifiable(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(linkRowColumns).
		AddRow("l1", "p1", nil, "482913", "PENDING", now.Add(time.Hour), nil, now, now, nil)
	mock.ExpectQuery("FROM scholar_links\\s+WHERE link_code = \\?").
		WithArgs("482913", models.LinkStatusPending, now, "s1").
		WillReturnRows(rows)

	link, err := repo.FindVerifiable(context.Background(), "482913", "s1", now)
	require.NoError(t, err)
	assert.Equal(t, "l1", link.ID)
	assert.Nil(t, link.ScholarID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListIssuedFiltersEffectivePending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	now := time.Now().UTC()
	status := models.LinkStatusPending
	mock.ExpectQuery(regexp.QuoteMeta("FROM scholar_links WHERE parent_id = ? AND status = ? AND expires_at > ? ORDER BY created_at DESC LIMIT 10 OFFSET 10")).
		WithArgs("p1", models.LinkStatusPending, now).
		WillReturnRows(sqlmock.NewRows(linkRowColumns).AddRow("l1", "p1", nil, "482913", "PENDING", now.Add(time.Hour), nil, now, now, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM scholar_links WHERE parent_id = ?")).
		WithArgs("p1", models.LinkStatusPending, now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	links, total, err := repo.ListIssued(context.Background(), models.ScholarLinkFilter{ParentID: "p1", Status: &status, Page: 2, PageSize: 10}, now)
	require.NoError(t, err)
	assert.Len(t, links, 1)
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirePendingReturnsIDs(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("RETURNING id")).
		WithArgs(models.LinkStatusExpired, now, models.LinkStatusPending, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("l1").AddRow("l2"))

	ids, err := repo.ExpirePending(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("GROUP BY 1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "total"}).
			AddRow("PENDING", 2).
			AddRow("VERIFIED", 5).
			AddRow("EXPIRED", 1))

	stats, err := repo.CountByStatus(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 5, stats.Verified)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 8, stats.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokePendingRequiresOwner(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScholarLinkRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND parent_id = ? AND status = ? AND expires_at > ?")).
		WithArgs(models.LinkStatusRevoked, now, "l1", "p2", models.LinkStatusPending, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.RevokePending(context.Background(), "l1", "p2", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
