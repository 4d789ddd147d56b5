package service

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/crescent-api/pkg/config"
	"github.com/noah-isme/crescent-api/pkg/jobs"
	"github.com/noah-isme/crescent-api/pkg/mailer"
)

// Notification kinds carried on the queue.
const (
	NotifyLinkVerified = "link_verified"
	NotifyLinkIssued   = "link_issued"
)

// LinkVerifiedNotice tells a parent that a scholar accepted their code.
type LinkVerifiedNotice struct {
	LinkID       string
	ParentName   string
	ParentEmail  string
	ScholarName  string
	ScholarEmail string
	VerifiedAt   time.Time
}

// LinkIssuedNotice tells a scholar that a code was addressed to them.
type LinkIssuedNotice struct {
	LinkID       string
	ParentName   string
	ScholarName  string
	ScholarEmail string
	ExpiresAt    time.Time
}

// NotificationService delivers link emails off the request path.
type NotificationService struct {
	queue   *jobs.Queue
	mailer  mailer.Mailer
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService wires a worker queue in front of m.
func NewNotificationService(m mailer.Mailer, metrics *MetricsService, logger *zap.Logger, cfg config.NotifyConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{mailer: m, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains queued notifications.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// LinkVerified queues the parent's confirmation email.
func (s *NotificationService) LinkVerified(ctx context.Context, notice LinkVerifiedNotice) {
	s.enqueue(NotifyLinkVerified, notice)
}

// LinkIssued queues the addressed scholar's invitation email.
func (s *NotificationService) LinkIssued(ctx context.Context, notice LinkIssuedNotice) {
	s.enqueue(NotifyLinkIssued, notice)
}

func (s *NotificationService) enqueue(kind string, payload interface{}) {
	if err := s.queue.Enqueue(jobs.Job{Kind: kind, Payload: payload}); err != nil {
		s.metrics.RecordNotification(kind, OutcomeDropped)
		s.logger.Warn("notification dropped", zap.String("kind", kind), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	msg, err := buildMessage(job)
	if err != nil {
		s.metrics.RecordNotification(job.Kind, OutcomeDropped)
		s.logger.Error("unroutable notification", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.metrics.RecordNotification(job.Kind, OutcomeError)
		return err
	}
	s.metrics.RecordNotification(job.Kind, OutcomeSuccess)
	return nil
}

func buildMessage(job jobs.Job) (mailer.Message, error) {
	switch notice := job.Payload.(type) {
	case LinkVerifiedNotice:
		scholar := notice.ScholarName
		if scholar == "" {
			scholar = "Your scholar"
		}
		return mailer.Message{
			To:      []mail.Address{{Name: notice.ParentName, Address: notice.ParentEmail}},
			Subject: "Scholar account linked",
			TextBody: fmt.Sprintf("Hello %s,\n\n%s accepted your link code on %s. You can now follow their progress in Crescent.\n",
				notice.ParentName, scholar, notice.VerifiedAt.UTC().Format(time.RFC1123)),
		}, nil
	case LinkIssuedNotice:
		return mailer.Message{
			To:      []mail.Address{{Name: notice.ScholarName, Address: notice.ScholarEmail}},
			Subject: "Parent link request",
			TextBody: fmt.Sprintf("Hello %s,\n\n%s asked to link their Crescent account with yours. Enter the code they gave you before %s, or decline the request from your pending links.\n",
				notice.ScholarName, notice.ParentName, notice.ExpiresAt.UTC().Format(time.RFC1123)),
		}, nil
	default:
		return mailer.Message{}, fmt.Errorf("unknown notification payload %T for kind %q", job.Payload, job.Kind)
	}
}
