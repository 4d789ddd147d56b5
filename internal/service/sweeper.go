package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/crescent-api/internal/models"
	appErrors "github.com/noah-isme/crescent-api/pkg/errors"
)

type linkExpirer interface {
	ExpirePending(ctx context.Context, now time.Time) ([]string, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ExpirySweeper moves pending links past their deadline to EXPIRED. Reads
// already treat such links as expired; the sweep makes the state durable.
type ExpirySweeper struct {
	store    linkExpirer
	audit    auditWriter
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewExpirySweeper constructs a sweeper. A non-positive interval disables Start.
func NewExpirySweeper(store linkExpirer, audit auditWriter, cache *CacheService, metrics *MetricsService, logger *zap.Logger, interval time.Duration) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweeper{
		store:    store,
		audit:    audit,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// SweepOnce expires overdue pending links and returns how many changed.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()
	start := time.Now()
	ids, err := s.store.ExpirePending(ctx, now)
	s.metrics.ObserveDBQuery("links_expire_pending", time.Since(start))
	if err != nil {
		return 0, appErrors.Internal(err, "failed to expire links")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	status := `{"status":"EXPIRED"}`
	for _, id := range ids {
		linkID := id
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			Action:     models.AuditActionLinkExpired,
			Resource:   models.AuditResourceScholarLink,
			ResourceID: &linkID,
			NewValues:  &status,
		}); err != nil {
			s.logger.Warn("failed to record expiry audit log", zap.String("link_id", linkID), zap.Error(err))
		}
	}

	s.metrics.AddExpiredLinks(len(ids))
	s.cache.Invalidate(ctx, cachePatternLinkStats)
	s.logger.Info("expired pending links", zap.Int("count", len(ids)))
	return len(ids), nil
}

// Start sweeps on every tick until ctx is cancelled. Use Wait to block until
// the in-flight sweep, if any, has returned.
func (s *ExpirySweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					s.logger.Warn("link sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Wait blocks until the goroutine launched by Start has exited.
func (s *ExpirySweeper) Wait() {
	s.wg.Wait()
}
