package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/crescent-api/internal/models"
	"github.com/noah-isme/crescent-api/pkg/database"
)

type linkStore struct {
	db    *sqlx.DB
	users *UserRepository
	links *ScholarLinkRepository
}

func newLinkStore(t *testing.T) *linkStore {
	t.Helper()
	db, err := database.NewSQLite(database.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator, err := database.NewMigrator(db)
	require.NoError(t, err)
	require.NoError(t, migrator.Up(context.Background()))

	return &linkStore{db: db, users: NewUserRepository(db), links: NewScholarLinkRepository(db)}
}

func (s *linkStore) user(t *testing.T, id string, role models.UserRole) {
	t.Helper()
	require.NoError(t, s.users.Create(context.Background(), &models.User{
		ID:           id,
		Email:        id + "@crescent.test",
		PasswordHash: "x",
		FullName:     "User " + id,
		Role:         role,
		Active:       true,
	}))
}

func (s *linkStore) issue(t *testing.T, parentID, code string, scholarID *string, at time.Time, ttl time.Duration) *models.ScholarLink {
	t.Helper()
	link := &models.ScholarLink{ParentID: parentID, ScholarID: scholarID, LinkCode: code, CreatedAt: at, ExpiresAt: at.Add(ttl)}
	_, err := s.links.CreatePending(context.Background(), link)
	require.NoError(t, err)
	return link
}

func (s *linkStore) status(t *testing.T, id string) models.LinkStatus {
	t.Helper()
	link, err := s.links.FindByID(context.Background(), id)
	require.NoError(t, err)
	return link.Status
}

func TestSQLiteVerifyIsSingleUse(t *testing.T) {
	store := newLinkStore(t)
	store.user(t, "p1", models.RoleParent)
	store.user(t, "s1", models.RoleStudent)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	issued := store.issue(t, "p1", "482913", nil, t0, 24*time.Hour)

	found, err := store.links.FindVerifiable(ctx, "482913", "s1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, issued.ID, found.ID)

	ok, err := store.links.MarkVerified(ctx, found.ID, "s1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	verified, err := store.links.FindByID(ctx, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LinkStatusVerified, verified.Status)
	require.NotNil(t, verified.VerifiedAt)
	assert.True(t, verified.VerifiedAt.Equal(t0.Add(time.Hour)))
	require.NotNil(t, verified.ScholarID)
	assert.Equal(t, "s1", *verified.ScholarID)

	_, err = store.links.FindVerifiable(ctx, "482913", "s1", t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, sql.ErrNoRows)

	ok, err = store.links.MarkVerified(ctx, issued.ID, "s1", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := store.links.FindByID(ctx, issued.ID)
	require.NoError(t, err)
	assert.True(t, again.VerifiedAt.Equal(*verified.VerifiedAt))
}

func TestSQLiteExpiredCodeCannotBeVerified(t *testing.T) {
	store := newLinkStore(t)
	store.user(t, "p1", models.RoleParent)
	store.user(t, "s1", models.RoleStudent)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	issued := store.issue(t, "p1", "482913", nil, t0, 24*time.Hour)

	_, err := store.links.FindVerifiable(ctx, "482913", "s1", t0.Add(25*time.Hour))
	assert.ErrorIs(t, err, sql.ErrNoRows)

	ok, err := store.links.MarkVerified(ctx, issued.ID, "s1", t0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.LinkStatusPending, store.status(t, issued.ID))
}

func TestSQLiteConcurrentVerifyHasOneWinner(t *testing.T) {
	store := newLinkStore(t)
	store.user(t, "p1", models.RoleParent)
	store.user(t, "s1", models.RoleStudent)

	now := time.Now().UTC()
	issued := store.issue(t, "p1", "555123", nil, now, time.Hour)

	const contenders = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.links.MarkVerified(context.Background(), issued.ID, "s1", time.Now().UTC())
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, models.LinkStatusVerified, store.status(t, issued.ID))
}

func TestSQLiteReissueSupersedesPendingForSameTarget(t *testing.T) {
	store := newLinkStore(t)
	store.user(t, "p1", models.RoleParent)
	store.user(t, "s1", models.RoleStudent)

	now := time.Now().UTC()
	first := store.issue(t, "p1", "100001", nil, now, time.Hour)
	scholar := "s1"
	targeted := store.issue(t, "p1", "100002", &scholar, now, time.Hour)
	second := store.issue(t, "p1", "100003", nil, now.Add(time.Minute), time.Hour)

	assert.Equal(t, models.LinkStatusRevoked, store.status(t, first.ID))
	assert.Equal(t, models.LinkStatusPending, store.status(t, targeted.ID))
	assert.Equal(t, models.LinkStatusPending, store.status(t, second.ID))
}

func TestSQLitePendingCodeIsUnique(t *testing.T) {
	store := newLinkStore(t)
	store.user(t, "p1", models.RoleParent)
	store.user(t, "p2", models.RoleParent)
	ctx := context.Background()

	now := time.Now().UTC()
	store.issue(t, "p1", "482913", nil, now, time.Hour)

	exists, err := store.links.PendingCodeExists(ctx, "482913", now)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.links.CreatePending(ctx, &models.ScholarLink{ParentID: "p2", LinkCode: "482913", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrPendingConflict)
}

func TestSQLiteExpiredHolderReleasesCode(t *testing.T) {
	store := newLinkStore(t)
	store.user(t, "p1", models.RoleParent)
	store.user(t, "p2", models.RoleParent)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	stale := store.issue(t, "p1", "777777", nil, t0, 24*time.Hour)

	later := t0.Add(30 * time.Hour)
	exists, err := store.links.PendingCodeExists(ctx, "777777", later)
	require.NoError(t, err)
	assert.False(t, exists)

	fresh := store.issue(t, "p2", "777777", nil, later, 24*time.Hour)
	assert.Equal(t, models.LinkStatusExpired, store.status(t, stale.ID))
	assert.Equal(t, models.LinkStatusPending, store.status(t, fresh.ID))
}

func TestSQLitePendingListExcludesVerifiedAndExpired(t *testing.T) {
	store := newLinkStore(t)
	for _, id := range []string{"p1", "p2", "p3"} {
		store.user(t, id, models.RoleParent)
	}
	store.user(t, "s1", models.RoleStudent)
	ctx := context.Background()

	now := time.Now().UTC()
	scholar := "s1"
	open := store.issue(t, "p1", "200001", &scholar, now, time.Hour)
	verified := store.issue(t, "p2", "200002", &scholar, now, time.Hour)
	store.issue(t, "p3", "200003", &scholar, now.Add(-2*time.Hour), time.Hour)

	ok, err := store.links.MarkVerified(ctx, verified.ID, "s1", now)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err := store.links.ListPendingForScholar(ctx, "s1", now)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].ID)
	assert.Equal(t, "User p1", pending[0].ParentName)
	assert.Equal(t, "p1@crescent.test", pending[0].ParentEmail)

	parents, err := store.links.ListLinkedParents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, "p2", parents[0].UserID)

	scholars, err := store.links.ListLinkedScholars(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, scholars, 1)
	assert.Equal(t, "s1", scholars[0].UserID)
}

func TestSQLiteVerifiedPairIsUnique(t *testing.T) {
	store := newLinkStore(t)
	store.user(t, "p1", models.RoleParent)
	store.user(t, "s1", models.RoleStudent)
	ctx := context.Background()

	now := time.Now().UTC()
	scholar := "s1"
	targeted := store.issue(t, "p1", "300001", &scholar, now, time.Hour)
	open := store.issue(t, "p1", "300002", nil, now, time.Hour)

	ok, err := store.links.MarkVerified(ctx, targeted.ID, "s1", now)
	require.NoError(t, err)
	require.True(t, ok)

	linked, err := store.links.ExistsVerified(ctx, "p1", "s1")
	require.NoError(t, err)
	assert.True(t, linked)

	_, err = store.links.MarkVerified(ctx, open.ID, "s1", now)
	assert.ErrorIs(t, err, ErrPairLinked)
}

func TestSQLiteTransitionsOnlyTouchPending(t *testing.T) {
	store := newLinkStore(t)
	store.user(t, "p1", models.RoleParent)
	store.user(t, "s1", models.RoleStudent)
	ctx := context.Background()

	now := time.Now().UTC()
	scholar := "s1"
	link := store.issue(t, "p1", "400001", &scholar, now, time.Hour)

	ok, err := store.links.RejectPending(ctx, link.ID, "s1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.links.RevokePending(ctx, link.ID, "p1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.links.MarkVerified(ctx, link.ID, "s1", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.LinkStatusRejected, store.status(t, link.ID))
}

func TestSQLiteUnlinkClearsVerifiedAt(t *testing.T) {
	store := newLinkStore(t)
	store.user(t, "p1", models.RoleParent)
	store.user(t, "s1", models.RoleStudent)
	store.user(t, "s2", models.RoleStudent)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	link := store.issue(t, "p1", "500001", nil, now, time.Hour)
	ok, err := store.links.MarkVerified(ctx, link.ID, "s1", now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.links.Unlink(ctx, link.ID, "s2", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.links.Unlink(ctx, link.ID, "s1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	unlinked, err := store.links.FindByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LinkStatusRevoked, unlinked.Status)
	assert.Nil(t, unlinked.VerifiedAt)
	require.NotNil(t, unlinked.UnlinkedAt)
	assert.True(t, unlinked.UnlinkedAt.Equal(now.Add(time.Minute)))
}

func TestSQLiteSweepAndStats(t *testing.T) {
	store := newLinkStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		parent := fmt.Sprintf("p%d", i)
		store.user(t, parent, models.RoleParent)
		store.issue(t, parent, fmt.Sprintf("60000%d", i), nil, t0, time.Duration(i+1)*time.Hour)
	}

	at := t0.Add(90 * time.Minute)
	stats, err := store.links.CountByStatus(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 2, stats.Pending)

	ids, err := store.links.ExpirePending(ctx, at)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	expired := models.LinkStatusExpired
	links, total, err := store.links.ListIssued(ctx, models.ScholarLinkFilter{ParentID: "p0", Status: &expired}, at)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, links, 1)
	assert.Equal(t, ids[0], links[0].ID)

	ids, err = store.links.ExpirePending(ctx, at)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
