package service

import (
	"context"
	"time"

	"calendar-sync/core/logger"
	"calendar-sync/modules/audit/entity"
	"calendar-sync/modules/audit/repository"

	"github.com/google/uuid"
)

// Recorder writes audit rows. Write failures are logged and never returned:
// an audit outage must not fail the operation being audited.
type Recorder interface {
	Record(ctx context.Context, log entity.AuditLog)
}

type AuditService struct {
	repo repository.AuditRepository
	now  func() time.Time
}

func NewAuditService(repo repository.AuditRepository) *AuditService {
	return &AuditService{repo: repo, now: time.Now}
}

func (s *AuditService) Record(ctx context.Context, log entity.AuditLog) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	if log.Status == "" {
		log.Status = entity.StatusSuccess
	}
	if err := s.repo.Create(ctx, &log); err != nil {
		logger.Error("AuditService:Record:Error", "action", log.Action, "status", log.Status, "error", err)
	}
}
