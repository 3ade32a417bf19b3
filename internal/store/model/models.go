package model

import (
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusOK      RunStatus = "ok"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// RunModel 记录一次校准运行。
type RunModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Asset          string         `gorm:"column:asset;index"`
	Template       string         `gorm:"column:template"`
	Mode           string         `gorm:"column:mode"`
	Status         RunStatus      `gorm:"column:status"`
	Timeframes     int            `gorm:"column:timeframes"`
	Outputs        int            `gorm:"column:outputs"`
	Failed         int            `gorm:"column:failed"`
	MappingTotal   int            `gorm:"column:mapping_total"`
	MappingMissing int            `gorm:"column:mapping_missing"`
	SummaryJSON    datatypes.JSON `gorm:"column:summary_json;type:TEXT"`
	Message        string         `gorm:"column:message"`
	StartedAtUnix  int64          `gorm:"column:started_at"`
	FinishedAtUnix int64          `gorm:"column:finished_at"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
}

func (RunModel) TableName() string { return "calibration_runs" }

// TimeframeOutcomeModel 记录单个周期的输出。
type TimeframeOutcomeModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RunID         string         `gorm:"column:run_id;index"`
	Timeframe     string         `gorm:"column:timeframe"`
	OutputPath    string         `gorm:"column:output_path"`
	Patched       int            `gorm:"column:patched"`
	UnmatchedJSON datatypes.JSON `gorm:"column:unmatched_json;type:TEXT"`
	DisabledJSON  datatypes.JSON `gorm:"column:disabled_json;type:TEXT"`
	Error         string         `gorm:"column:error"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (TimeframeOutcomeModel) TableName() string { return "calibration_outcomes" }
