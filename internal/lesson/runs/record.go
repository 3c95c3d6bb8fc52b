// Package runs records the lifecycle of lesson runs.
package runs

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type RunRecord struct {
	ID           string         `gorm:"column:id;primaryKey;size:36" json:"id"`
	Prompt       string         `gorm:"column:prompt;not null" json:"prompt"`
	Domain       string         `gorm:"column:domain;index" json:"domain,omitempty"`
	AgeGroup     string         `gorm:"column:age_group" json:"age_group,omitempty"`
	Demo         bool           `gorm:"column:demo;not null;default:false" json:"demo"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Phase        string         `gorm:"column:phase" json:"phase"`
	RepairStage  string         `gorm:"column:repair_stage" json:"repair_stage,omitempty"`
	ImagesTotal  int            `gorm:"column:images_total;not null;default:0" json:"images_total"`
	ImagesFailed int            `gorm:"column:images_failed;not null;default:0" json:"images_failed"`
	AudioTotal   int            `gorm:"column:audio_total;not null;default:0" json:"audio_total"`
	AudioFailed  int            `gorm:"column:audio_failed;not null;default:0" json:"audio_failed"`
	ErrorCode    string         `gorm:"column:error_code" json:"error_code,omitempty"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	Plan         datatypes.JSON `gorm:"column:plan" json:"plan,omitempty"`
	FinishedAt   *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (RunRecord) TableName() string { return "lesson_run" }
