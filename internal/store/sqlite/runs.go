package sqlite

import (
	"context"
	"errors"
	"time"

	"calibrator/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// runRepository implements the RunRepository interface.
type runRepository struct {
	db *gorm.DB
}

// NewRunRepo creates a new runRepository.
func NewRunRepo(db *gorm.DB) *runRepository {
	return &runRepository{db: db}
}

// Save saves or updates a run.
func (r *runRepository) Save(ctx context.Context, run *model.RunModel) error {
	if run == nil {
		return errors.New("run cannot be nil")
	}
	if run.ID == "" {
		return errors.New("run id cannot be empty")
	}
	if run.CreatedAtUnix == 0 {
		run.CreatedAtUnix = time.Now().Unix()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(run).Error
}

// SaveOutcomes replaces the outcomes stored for runID.
func (r *runRepository) SaveOutcomes(ctx context.Context, runID string, outcomes []model.TimeframeOutcomeModel) error {
	if runID == "" {
		return errors.New("run id cannot be empty")
	}
	db := r.db.WithContext(ctx)
	if err := db.Where("run_id = ?", runID).Delete(&model.TimeframeOutcomeModel{}).Error; err != nil {
		return err
	}
	if len(outcomes) == 0 {
		return nil
	}
	now := time.Now().Unix()
	rows := make([]model.TimeframeOutcomeModel, len(outcomes))
	for i, o := range outcomes {
		o.ID = 0
		o.RunID = runID
		if o.CreatedAtUnix == 0 {
			o.CreatedAtUnix = now
		}
		rows[i] = o
	}
	return db.Create(&rows).Error
}

// FindByID returns nil when the run does not exist.
func (r *runRepository) FindByID(ctx context.Context, id string) (*model.RunModel, error) {
	var run model.RunModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRecent lists recent runs, newest first.
func (r *runRepository) ListRecent(ctx context.Context, limit int) ([]model.RunModel, error) {
	var runs []model.RunModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Order("started_at DESC, created_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *runRepository) ListOutcomes(ctx context.Context, runID string) ([]model.TimeframeOutcomeModel, error) {
	var rows []model.TimeframeOutcomeModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
