// internal/services/outbox_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/metrics"
	"github.com/javajoker/coop-registry/internal/models"
)

// TaskHandler executes one outbox task. A returned error schedules a retry.
type TaskHandler func(ctx context.Context, task *models.OutboxTask) error

// ErrPermanent marks a task failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent task failure")

// OutboxService is the durable retry queue behind notifications, certificate
// uploads and event publishing.
type OutboxService struct {
	db      *gorm.DB
	cfg     config.OutboxConfig
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[models.OutboxKind]TaskHandler
}

// claimLease keeps a task invisible to other workers while it runs.
const claimLease = 5 * time.Minute

func NewOutboxService(db *gorm.DB, cfg config.OutboxConfig, m *metrics.Metrics) *OutboxService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	return &OutboxService{
		db:       db,
		cfg:      cfg,
		metrics:  m,
		handlers: make(map[models.OutboxKind]TaskHandler),
	}
}

func (s *OutboxService) Register(kind models.OutboxKind, handler TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = handler
}

// Enqueue stores a task. Pass tx to make the task part of a larger transaction.
func (s *OutboxService) Enqueue(ctx context.Context, tx *gorm.DB, kind models.OutboxKind, payload models.JSONB) error {
	if tx == nil {
		tx = s.db.WithContext(ctx)
	}

	task := &models.OutboxTask{
		Kind:          kind,
		Payload:       payload,
		Status:        models.OutboxStatusPending,
		MaxAttempts:   s.cfg.MaxAttempts,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := tx.Create(task).Error; err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", kind, err)
	}
	return nil
}

// ProcessPending runs every due task once and returns how many were attempted.
func (s *OutboxService) ProcessPending(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	var due []models.OutboxTask
	if err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.OutboxStatusPending, now).
		Order("created_at ASC").
		Limit(s.cfg.BatchSize).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("failed to load outbox tasks: %w", err)
	}

	processed := 0
	for i := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		task := &due[i]
		claimed, err := s.claim(ctx, task, now)
		if err != nil {
			return processed, err
		}
		if !claimed {
			continue
		}

		s.execute(ctx, task)
		processed++
	}

	return processed, nil
}

// claim moves next_attempt_at into the future so a concurrent worker skips the task.
func (s *OutboxService) claim(ctx context.Context, task *models.OutboxTask, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.OutboxTask{}).
		Where("id = ? AND status = ? AND next_attempt_at <= ?", task.ID, models.OutboxStatusPending, now).
		Update("next_attempt_at", now.Add(claimLease))
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim outbox task: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *OutboxService) execute(ctx context.Context, task *models.OutboxTask) {
	logger := logrus.WithFields(logrus.Fields{
		"task_id": task.ID,
		"kind":    task.Kind,
		"attempt": task.Attempts + 1,
	})

	s.mu.RLock()
	handler, ok := s.handlers[task.Kind]
	s.mu.RUnlock()

	var runErr error
	if !ok {
		runErr = fmt.Errorf("%w: no handler registered for %s", ErrPermanent, task.Kind)
	} else {
		runErr = handler(ctx, task)
	}

	attempts := task.Attempts + 1
	updates := map[string]interface{}{"attempts": attempts}

	switch {
	case runErr == nil:
		now := time.Now().UTC()
		updates["status"] = models.OutboxStatusDone
		updates["processed_at"] = &now
		updates["last_error"] = ""
		s.metrics.IncOutboxTask(string(task.Kind), "done")
	case errors.Is(runErr, ErrPermanent) || attempts >= task.MaxAttempts:
		updates["status"] = models.OutboxStatusDead
		updates["last_error"] = runErr.Error()
		s.metrics.IncOutboxTask(string(task.Kind), "dead")
		logger.WithError(runErr).Error("Outbox task moved to dead letter")
	default:
		updates["next_attempt_at"] = time.Now().UTC().Add(s.retryDelay(attempts))
		updates["last_error"] = runErr.Error()
		s.metrics.IncOutboxTask(string(task.Kind), "retry")
		logger.WithError(runErr).Warn("Outbox task failed, will retry")
	}

	// Use a fresh context so shutdown does not strand a claimed task.
	if err := s.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.OutboxTask{}).
		Where("id = ?", task.ID).
		Updates(updates).Error; err != nil {
		logger.WithError(err).Error("Failed to record outbox task result")
	}
}

// retryDelay follows an exponential schedule with jitter for the given attempt count.
func (s *OutboxService) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BaseDelay
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.InitialInterval
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Run polls for due tasks until ctx is cancelled.
func (s *OutboxService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	logrus.WithField("interval", s.cfg.PollInterval).Info("Outbox worker started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Outbox worker stopped")
			return
		case <-ticker.C:
			if _, err := s.ProcessPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("Outbox poll failed")
			}
		}
	}
}

type OutboxStats struct {
	Pending int64 `json:"pending"`
	Done    int64 `json:"done"`
	Dead    int64 `json:"dead"`
}

func (s *OutboxService) Stats(ctx context.Context) (*OutboxStats, error) {
	var rows []struct {
		Status models.OutboxStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&models.OutboxTask{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count outbox tasks: %w", err)
	}

	stats := &OutboxStats{}
	for _, row := range rows {
		switch row.Status {
		case models.OutboxStatusPending:
			stats.Pending = row.Count
		case models.OutboxStatusDone:
			stats.Done = row.Count
		case models.OutboxStatusDead:
			stats.Dead = row.Count
		}
	}
	return stats, nil
}
