package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/crescent-api/internal/models"
	appErrors "github.com/noah-isme/crescent-api/pkg/errors"
)

type stubLinkStore struct {
	codesInUse   map[string]bool
	createErrs   []error
	created      []*models.ScholarLink
	verifiable   *models.ScholarLink
	findErr      error
	findCalls    int
	verifiedPair bool
	markOK       bool
	markErr      error
	transitionOK bool
	byID         map[string]*models.ScholarLink
	issued       []models.ScholarLink
	stats        models.LinkStats
	countCalls   int
	expiredIDs   []string
}

func (s *stubLinkStore) PendingCodeExists(ctx context.Context, code string, now time.Time) (bool, error) {
	return s.codesInUse[code], nil
}

func (s *stubLinkStore) CreatePending(ctx context.Context, link *models.ScholarLink) (int64, error) {
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	link.ID = "link-" + link.LinkCode
	link.Status = models.LinkStatusPending
	s.created = append(s.created, link)
	return 0, nil
}

func (s *stubLinkStore) FindByID(ctx context.Context, id string) (*models.ScholarLink, error) {
	if link, ok := s.byID[id]; ok {
		return link, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubLinkStore) FindVerifiable(ctx context.Context, code, scholarID string, now time.Time) (*models.ScholarLink, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.verifiable == nil || s.verifiable.LinkCode != code {
		return nil, sql.ErrNoRows
	}
	return s.verifiable, nil
}

func (s *stubLinkStore) ExistsVerified(ctx context.Context, parentID, scholarID string) (bool, error) {
	return s.verifiedPair, nil
}

func (s *stubLinkStore) MarkVerified(ctx context.Context, id, scholarID string, now time.Time) (bool, error) {
	return s.markOK, s.markErr
}

func (s *stubLinkStore) RejectPending(ctx context.Context, id, scholarID string, now time.Time) (bool, error) {
	return s.transitionOK, nil
}

func (s *stubLinkStore) RevokePending(ctx context.Context, id, parentID string, now time.Time) (bool, error) {
	return s.transitionOK, nil
}

func (s *stubLinkStore) Unlink(ctx context.Context, id, partyID string, now time.Time) (bool, error) {
	return s.transitionOK, nil
}

func (s *stubLinkStore) ListPendingForScholar(ctx context.Context, scholarID string, now time.Time) ([]models.PendingLinkRow, error) {
	return nil, nil
}

func (s *stubLinkStore) ListLinkedParents(ctx context.Context, scholarID string) ([]models.LinkedPartyRow, error) {
	return nil, nil
}

func (s *stubLinkStore) ListLinkedScholars(ctx context.Context, parentID string) ([]models.LinkedPartyRow, error) {
	return nil, nil
}

func (s *stubLinkStore) ListIssued(ctx context.Context, filter models.ScholarLinkFilter, now time.Time) ([]models.ScholarLink, int, error) {
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(s.issued) {
		return []models.ScholarLink{}, len(s.issued), nil
	}
	end := start + filter.PageSize
	if end > len(s.issued) {
		end = len(s.issued)
	}
	return s.issued[start:end], len(s.issued), nil
}

func (s *stubLinkStore) CountByStatus(ctx context.Context, now time.Time) (models.LinkStats, error) {
	s.countCalls++
	stats := s.stats
	stats.GeneratedAt = now
	return stats, nil
}

func (s *stubLinkStore) ExpirePending(ctx context.Context, now time.Time) ([]string, error) {
	ids := s.expiredIDs
	s.expiredIDs = nil
	return ids, nil
}

type stubUsers struct {
	mu     sync.Mutex
	users  map[string]*models.User
	audits []*models.AuditLog
}

func newStubUsers(users ...*models.User) *stubUsers {
	s := &stubUsers{users: map[string]*models.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *stubUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubUsers) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, log)
	return nil
}

func (s *stubUsers) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audits))
	for _, a := range s.audits {
		out = append(out, a.Action)
	}
	return out
}

type stubAttempts struct {
	failures int
	recorded int
	resets   int
}

func (s *stubAttempts) Failures(ctx context.Context, scholarID string) (int, error) {
	return s.failures, nil
}

func (s *stubAttempts) RecordFailure(ctx context.Context, scholarID string, window time.Duration) (int, error) {
	s.recorded++
	s.failures++
	return s.failures, nil
}

func (s *stubAttempts) Reset(ctx context.Context, scholarID string) error {
	s.resets++
	s.failures = 0
	return nil
}

type stubNotifier struct {
	mu       sync.Mutex
	verified []LinkVerifiedNotice
	issued   []LinkIssuedNotice
}

func (s *stubNotifier) LinkVerified(ctx context.Context, notice LinkVerifiedNotice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified = append(s.verified, notice)
}

func (s *stubNotifier) LinkIssued(ctx context.Context, notice LinkIssuedNotice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued = append(s.issued, notice)
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string][]byte{}}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
