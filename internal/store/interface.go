package store

import (
	"context"

	"calibrator/internal/store/model"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Runs returns the run repository within this transaction.
	Runs() RunRepository
}

// Store is the entry point for database access.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	// Close closes the store connection.
	Close() error
}

// RunRepository handles calibration runs and their per-timeframe outcomes.
type RunRepository interface {
	Save(ctx context.Context, run *model.RunModel) error
	SaveOutcomes(ctx context.Context, runID string, outcomes []model.TimeframeOutcomeModel) error
	FindByID(ctx context.Context, id string) (*model.RunModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.RunModel, error)
	ListOutcomes(ctx context.Context, runID string) ([]model.TimeframeOutcomeModel, error)
}
