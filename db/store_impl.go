package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portaladmin/model"
)

type SQLStore struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewSQLStore(db *gorm.DB, log *zap.SugaredLogger) *SQLStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SQLStore{db: db, log: log}
}

// DB exposes the underlying handle for callers that need the gorm Migrator.
func (s *SQLStore) DB() *gorm.DB {
	return s.db
}

// Ping verifies the underlying database connection is healthy.
func (s *SQLStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sql store is not initialized")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool. It is safe to call on a nil store.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SQLStore{db: tx, log: s.log})
	})
}

// DeleteWorkersExcept removes every worker but keepID and returns how many rows went.
func (s *SQLStore) DeleteWorkersExcept(ctx context.Context, keepID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("id <> ?", keepID).Delete(&model.Worker{})
	return res.RowsAffected, res.Error
}

func (s *SQLStore) InsertWorker(ctx context.Context, w *model.Worker) error {
	return s.db.WithContext(ctx).Create(w).Error
}

// UpsertWorker inserts w or, when its id already exists, overwrites every
// mutable column and refreshes updated_at. created_at is left alone.
func (s *SQLStore) UpsertWorker(ctx context.Context, w *model.Worker) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(model.MutableColumns),
		}).
		Create(w).Error
}

func (s *SQLStore) GetWorker(ctx context.Context, id string) (*model.Worker, error) {
	var w model.Worker
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *SQLStore) ListWorkers(ctx context.Context) ([]model.Worker, error) {
	var workers []model.Worker
	if err := s.db.WithContext(ctx).Order("id").Find(&workers).Error; err != nil {
		return nil, err
	}
	return workers, nil
}

func (s *SQLStore) ListWorkersByRole(ctx context.Context, role model.Role) ([]model.Worker, error) {
	var workers []model.Worker
	err := s.db.WithContext(ctx).
		Where("role = ?", role).
		Order("id").
		Find(&workers).Error
	return workers, err
}

// RecentWorkers returns the most recently created active workers.
func (s *SQLStore) RecentWorkers(ctx context.Context, limit int) ([]model.Worker, error) {
	var workers []model.Worker
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Order("id").
		Limit(limit).
		Find(&workers).Error
	return workers, err
}

func (s *SQLStore) CountActiveWorkers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Worker{}).
		Where("is_active = ?", true).
		Count(&count).Error
	return count, err
}

// RoleDistribution returns worker counts per role, largest first.
func (s *SQLStore) RoleDistribution(ctx context.Context) ([]RoleCount, error) {
	var rows []RoleCount
	err := s.db.WithContext(ctx).
		Model(&model.Worker{}).
		Select("role, COUNT(*) AS count").
		Group("role").
		Order("count DESC").
		Order("role").
		Scan(&rows).Error
	return rows, err
}
