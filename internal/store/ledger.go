package store

import (
	"context"
	"errors"

	"calibrator/internal/store/model"
)

// ErrLedgerDisabled 表示未配置运行记录数据库。
var ErrLedgerDisabled = errors.New("run ledger disabled")

// RunDetail 是一次运行及其各周期结果。
type RunDetail struct {
	Run      model.RunModel
	Outcomes []model.TimeframeOutcomeModel
}

// Ledger 封装运行记录的事务读写；nil Ledger 的写入为空操作。
type Ledger struct {
	st Store
}

func NewLedger(st Store) *Ledger {
	if st == nil {
		return nil
	}
	return &Ledger{st: st}
}

func (l *Ledger) Enabled() bool {
	return l != nil && l.st != nil
}

// Record 在同一事务中写入运行及其周期结果。
func (l *Ledger) Record(ctx context.Context, run *model.RunModel, outcomes []model.TimeframeOutcomeModel) error {
	if !l.Enabled() {
		return nil
	}
	return l.withTx(ctx, func(uow UnitOfWork) error {
		if err := uow.Runs().Save(ctx, run); err != nil {
			return err
		}
		return uow.Runs().SaveOutcomes(ctx, run.ID, outcomes)
	})
}

func (l *Ledger) Recent(ctx context.Context, limit int) ([]model.RunModel, error) {
	if !l.Enabled() {
		return nil, ErrLedgerDisabled
	}
	var out []model.RunModel
	err := l.withTx(ctx, func(uow UnitOfWork) error {
		runs, err := uow.Runs().ListRecent(ctx, limit)
		out = runs
		return err
	})
	return out, err
}

// Get 返回 nil 表示不存在。
func (l *Ledger) Get(ctx context.Context, id string) (*RunDetail, error) {
	if !l.Enabled() {
		return nil, ErrLedgerDisabled
	}
	var out *RunDetail
	err := l.withTx(ctx, func(uow UnitOfWork) error {
		run, err := uow.Runs().FindByID(ctx, id)
		if err != nil || run == nil {
			return err
		}
		outcomes, err := uow.Runs().ListOutcomes(ctx, id)
		if err != nil {
			return err
		}
		out = &RunDetail{Run: *run, Outcomes: outcomes}
		return nil
	})
	return out, err
}

func (l *Ledger) Close() error {
	if !l.Enabled() {
		return nil
	}
	return l.st.Close()
}

func (l *Ledger) withTx(ctx context.Context, fn func(UnitOfWork) error) error {
	uow, err := l.st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}
