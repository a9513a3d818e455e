// Package postgres implements the Job Store contract (pkg/store) on a
// single relational table, per the relational reference layout in
// SPEC §6: one jobs table with a composite index on
// (namespace, status, scheduled_for), FetchBatch implemented as a
// single row-locked transactional update that moves rows from
// status=pending to status=in_flight with locked_by set.
//
// The six spec collections (pending/scheduled/in_flight/done/
// failed/dead) are folded into one status column; done/failed/dead
// never both apply to the same row under the key-value layout's
// separate sets, so here "dead" doubles as "failed" — a killed job
// is simultaneously dead and failed by construction, which the spec
// explicitly allows ("failed and dead may coincide for the same id").
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"forgequeue/pkg/job"
	"forgequeue/pkg/store"
)

const (
	statusPending   = "pending"
	statusScheduled = "scheduled"
	statusInFlight  = "in_flight"
	statusDone      = "done"
	statusDead      = "dead" // also "failed"
)

type jobRow struct {
	ID           string `gorm:"type:varchar(64);primaryKey"`
	Namespace    string `gorm:"type:varchar(128);index:idx_ns_status_sched,priority:1"`
	Status       string `gorm:"type:varchar(16);index:idx_ns_status_sched,priority:2"`
	Payload      []byte
	Attempts     int
	MaxAttempts  int
	ScheduledFor *time.Time `gorm:"index:idx_ns_status_sched,priority:3"`
	LockedBy     *string
	LockedAt     *time.Time
	LastError    string
	DoneAt       *time.Time
	CreatedAt    time.Time
}

func (jobRow) TableName() string { return "jobs" }

func (r jobRow) toRecord() job.Record {
	return job.Record{
		ID:           r.ID,
		Namespace:    r.Namespace,
		Payload:      r.Payload,
		Attempts:     r.Attempts,
		MaxAttempts:  r.MaxAttempts,
		ScheduledFor: r.ScheduledFor,
		LastError:    r.LastError,
		CreatedAt:    r.CreatedAt,
	}
}

type consumerRow struct {
	Namespace string `gorm:"type:varchar(128);primaryKey"`
	WorkerID  string `gorm:"type:varchar(128);primaryKey"`
	LastSeen  time.Time
}

func (consumerRow) TableName() string { return "job_consumers" }

// Store is a Postgres/GORM-backed implementation of store.Store.
type Store struct {
	db *gorm.DB
}

// New opens a GORM connection and auto-migrates the jobs and
// job_consumers tables.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", job.TransportError(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&jobRow{}, &consumerRow{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Push(ctx context.Context, namespace string, payload []byte, maxAttempts int) (string, error) {
	row := jobRow{
		ID:          uuid.NewString(),
		Namespace:   namespace,
		Status:      statusPending,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", job.TransportError(err)
	}
	return row.ID, nil
}

func (s *Store) Schedule(ctx context.Context, namespace string, payload []byte, maxAttempts int, at time.Time) (string, error) {
	row := jobRow{
		ID:           uuid.NewString(),
		Namespace:    namespace,
		Status:       statusScheduled,
		Payload:      payload,
		MaxAttempts:  maxAttempts,
		ScheduledFor: &at,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", job.TransportError(err)
	}
	return row.ID, nil
}

func (s *Store) FetchBatch(ctx context.Context, namespace, workerID string, n int) ([]job.Record, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []jobRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		sel := tx.Raw(
			`SELECT id FROM jobs WHERE namespace = ? AND status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?) ORDER BY created_at ASC LIMIT ? FOR UPDATE SKIP LOCKED`,
			namespace, statusPending, time.Now().UTC(), n,
		)
		if err := sel.Scan(&ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		now := time.Now().UTC()
		if err := tx.Model(&jobRow{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":    statusInFlight,
			"locked_by": workerID,
			"locked_at": now,
		}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Order("created_at asc").Find(&rows).Error
	})
	if err != nil {
		return nil, job.TransportError(err)
	}
	out := make([]job.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

func (s *Store) Ack(ctx context.Context, namespace, workerID, id string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND namespace = ? AND locked_by = ? AND status = ?", id, namespace, workerID, statusInFlight).
		Updates(map[string]interface{}{"status": statusDone, "done_at": now, "locked_by": nil})
	if result.Error != nil {
		return job.TransportError(result.Error)
	}
	return nil // idempotent: RowsAffected==0 if already acked/moved
}

func (s *Store) Kill(ctx context.Context, namespace, workerID, id, reason string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND namespace = ?", id, namespace).
		Updates(map[string]interface{}{
			"status":     statusDead,
			"last_error": reason,
			"done_at":    now,
			"locked_by":  nil,
		})
	if result.Error != nil {
		return job.TransportError(result.Error)
	}
	return nil
}

func (s *Store) Retry(ctx context.Context, namespace, workerID, id, reason string, wait time.Duration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row jobRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND namespace = ? AND locked_by = ? AND status = ?", id, namespace, workerID, statusInFlight).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil // idempotent no-op: already resolved by a prior call
			}
			return err
		}

		wouldBe := row.Attempts + 1
		now := time.Now().UTC()
		if wouldBe >= row.MaxAttempts {
			return tx.Model(&row).Updates(map[string]interface{}{
				"status":     statusDead,
				"last_error": reason,
				"done_at":    now,
				"locked_by":  nil,
			}).Error
		}

		scheduledFor := now.Add(wait)
		return tx.Model(&row).Updates(map[string]interface{}{
			"status":        statusScheduled,
			"attempts":      wouldBe,
			"last_error":    reason,
			"scheduled_for": scheduledFor,
			"locked_by":     nil,
			"locked_at":     nil,
		}).Error
	})
}

func (s *Store) KeepAlive(ctx context.Context, namespace, workerID string) error {
	row := consumerRow{Namespace: namespace, WorkerID: workerID, LastSeen: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen"}),
	}).Create(&row).Error
	if err != nil {
		return job.TransportError(err)
	}
	return nil
}

func (s *Store) PromoteScheduled(ctx context.Context, namespace string, n int) (int, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE jobs SET status = ? WHERE id IN (
			SELECT id FROM jobs WHERE namespace = ? AND status = ? AND scheduled_for <= ?
			ORDER BY scheduled_for ASC, id ASC LIMIT ?
		)`,
		statusPending, namespace, statusScheduled, now, n,
	)
	if result.Error != nil {
		return 0, job.TransportError(result.Error)
	}
	return int(result.RowsAffected), nil
}

func (s *Store) ReenqueueOrphaned(ctx context.Context, namespace string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UTC()
	var expired []string
	if err := s.db.WithContext(ctx).Model(&consumerRow{}).
		Where("namespace = ? AND last_seen < ?", namespace, cutoff).
		Pluck("worker_id", &expired).Error; err != nil {
		return 0, job.TransportError(err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	var reclaimed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&jobRow{}).
			Where("namespace = ? AND status = ? AND locked_by IN ?", namespace, statusInFlight, expired).
			Updates(map[string]interface{}{"status": statusPending, "locked_by": nil, "locked_at": nil})
		if result.Error != nil {
			return result.Error
		}
		reclaimed = result.RowsAffected
		return tx.Where("namespace = ? AND worker_id IN ?", namespace, expired).Delete(&consumerRow{}).Error
	})
	if err != nil {
		return 0, job.TransportError(err)
	}
	return int(reclaimed), nil
}

func (s *Store) Vacuum(ctx context.Context, namespace string) (int, error) {
	result := s.db.WithContext(ctx).Where("namespace = ? AND status = ?", namespace, statusDead).Delete(&jobRow{})
	if result.Error != nil {
		return 0, job.TransportError(result.Error)
	}
	return int(result.RowsAffected), nil
}

func (s *Store) Cancel(ctx context.Context, namespace, id string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("id = ? AND namespace = ? AND status IN ?", id, namespace, []string{statusPending, statusScheduled}).
		Delete(&jobRow{})
	if result.Error != nil {
		return false, job.TransportError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) Len(ctx context.Context, namespace string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&jobRow{}).Where("namespace = ?", namespace).Count(&count).Error; err != nil {
		return 0, job.TransportError(err)
	}
	return count, nil
}

func (s *Store) IsEmpty(ctx context.Context, namespace string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("namespace = ? AND status = ?", namespace, statusPending).
		Count(&count).Error; err != nil {
		return false, job.TransportError(err)
	}
	return count == 0, nil
}

func (s *Store) FetchByID(ctx context.Context, namespace, id string) (*job.Record, error) {
	var row jobRow
	err := s.db.WithContext(ctx).Where("id = ? AND namespace = ?", id, namespace).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, job.TransportError(err)
	}
	rec := row.toRecord()
	return &rec, nil
}

func (s *Store) Update(ctx context.Context, namespace string, rec *job.Record) error {
	result := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND namespace = ?", rec.ID, namespace).
		Updates(map[string]interface{}{"payload": rec.Payload, "last_error": rec.LastError})
	if result.Error != nil {
		return job.TransportError(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, namespace string) (store.Stats, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&jobRow{}).
		Select("status, count(*) as count").
		Where("namespace = ?", namespace).
		Group("status").
		Scan(&rows).Error; err != nil {
		return store.Stats{}, job.TransportError(err)
	}
	var out store.Stats
	for _, r := range rows {
		switch r.Status {
		case statusPending:
			out.Pending = r.Count
		case statusScheduled:
			out.Scheduled = r.Count
		case statusInFlight:
			out.InFlight = r.Count
		case statusDone:
			out.Done = r.Count
		case statusDead:
			out.Dead = r.Count
			out.Failed = r.Count
		}
	}
	return out, nil
}

func (s *Store) Consumers(ctx context.Context, namespace string) ([]job.Consumer, error) {
	var rows []consumerRow
	if err := s.db.WithContext(ctx).Where("namespace = ?", namespace).Find(&rows).Error; err != nil {
		return nil, job.TransportError(err)
	}
	out := make([]job.Consumer, 0, len(rows))
	for _, r := range rows {
		out = append(out, job.Consumer{WorkerID: r.WorkerID, LastSeen: r.LastSeen})
	}
	return out, nil
}
