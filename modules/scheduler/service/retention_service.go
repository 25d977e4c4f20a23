package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
	auditEntity "calendar-sync/modules/audit/entity"
	auditRepository "calendar-sync/modules/audit/repository"
	auditService "calendar-sync/modules/audit/service"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Archiver stores one batch of expired audit rows before they are deleted.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

type ConflictPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type CleanupReport struct {
	AuditArchived  int
	AuditDeleted   int64
	ConflictsPurge int64
}

type RetentionServiceInterface interface {
	Cleanup(ctx context.Context) (*CleanupReport, error)
}

type RetentionService struct {
	logs      auditRepository.AuditRepository
	conflicts ConflictPurger
	archiver  Archiver
	audit     auditService.Recorder
	retention time.Duration
	keyPrefix string
	now       func() time.Time
}

// NewRetentionService builds the cleanup job. archiver may be nil, in which
// case expired audit rows are deleted without a copy.
func NewRetentionService(logs auditRepository.AuditRepository, conflicts ConflictPurger, archiver Archiver,
	audit auditService.Recorder, retentionDays int, appName string) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = constants.AuditLogRetentionDays
	}
	return &RetentionService{
		logs:      logs,
		conflicts: conflicts,
		archiver:  archiver,
		audit:     audit,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		keyPrefix: slug.Make(appName),
		now:       time.Now,
	}
}

func (s *RetentionService) WithClock(now func() time.Time) *RetentionService {
	s.now = now
	return s
}

func (s *RetentionService) Cleanup(ctx context.Context) (*CleanupReport, error) {
	start := s.now()
	now := start.UTC()
	report := &CleanupReport{}

	if err := s.purgeAudit(ctx, now.Add(-s.retention), report); err != nil {
		s.record(ctx, report, start, err)
		return report, err
	}
	n, err := s.conflicts.DeleteExpired(ctx, now)
	report.ConflictsPurge = n
	s.record(ctx, report, start, err)
	if err != nil {
		return report, err
	}
	logger.Info("RetentionService:Cleanup:Done",
		"archived", report.AuditArchived, "audit_deleted", report.AuditDeleted, "conflicts_deleted", report.ConflictsPurge)
	return report, nil
}

func (s *RetentionService) purgeAudit(ctx context.Context, cutoff time.Time, report *CleanupReport) error {
	if s.archiver == nil {
		n, err := s.logs.DeleteOlderThan(ctx, cutoff)
		report.AuditDeleted = n
		return err
	}

	for batch := 0; ; batch++ {
		rows, err := s.logs.ListOlderThan(ctx, cutoff, constants.AuditArchiveBatchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		body, err := encodeJSONL(rows)
		if err != nil {
			return err
		}
		if err := s.archiver.Put(ctx, s.objectKey(cutoff, batch), body); err != nil {
			logger.Error("RetentionService:Archive:Put:Error", "batch", batch, "error", err)
			return err
		}
		report.AuditArchived += len(rows)

		ids := make([]uuid.UUID, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		n, err := s.logs.DeleteByIDs(ctx, ids)
		report.AuditDeleted += n
		if err != nil {
			return err
		}
		if len(rows) < constants.AuditArchiveBatchSize {
			return nil
		}
	}
}

func (s *RetentionService) objectKey(cutoff time.Time, batch int) string {
	return fmt.Sprintf("%s/audit-logs/%s/%s-%04d.jsonl",
		s.keyPrefix, cutoff.Format("2006/01/02"), slug.Make("before "+cutoff.Format("2006-01-02 15 04")), batch)
}

func encodeJSONL(rows []auditEntity.AuditLog) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (s *RetentionService) record(ctx context.Context, report *CleanupReport, start time.Time, err error) {
	log := auditEntity.AuditLog{
		Action:     auditEntity.ActionRetentionCleanup,
		Deleted:    int(report.AuditDeleted + report.ConflictsPurge),
		Message:    fmt.Sprintf("archived %d audit rows", report.AuditArchived),
		DurationMs: s.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		log.Status = auditEntity.StatusFailure
		log.Message = err.Error()
	}
	s.audit.Record(ctx, log)
}
