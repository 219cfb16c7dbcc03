package db

import (
	"context"
	"errors"

	"portaladmin/model"
)

var (
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrConnection         = errors.New("database connection failed")
	ErrSchemaFileNotFound = errors.New("schema file not found")
)

// RoleCount is one row of the role distribution.
type RoleCount struct {
	Role  model.Role
	Count int64
}

// Store is the persistence surface the importer and setup tools need.
//
// Transaction runs fn against a Store bound to a database transaction; calling
// Transaction again on that Store opens a savepoint, so a failed inner call only
// undoes its own work.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error

	DeleteWorkersExcept(ctx context.Context, keepID string) (int64, error)
	InsertWorker(ctx context.Context, w *model.Worker) error
	UpsertWorker(ctx context.Context, w *model.Worker) error

	GetWorker(ctx context.Context, id string) (*model.Worker, error)
	ListWorkers(ctx context.Context) ([]model.Worker, error)
	ListWorkersByRole(ctx context.Context, role model.Role) ([]model.Worker, error)
	RecentWorkers(ctx context.Context, limit int) ([]model.Worker, error)
	CountActiveWorkers(ctx context.Context) (int64, error)
	RoleDistribution(ctx context.Context) ([]RoleCount, error)
}
