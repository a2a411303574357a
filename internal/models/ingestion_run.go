package models

import (
	"time"

	"gorm.io/datatypes"
)

type IngestionRun struct {
	ID         string         `gorm:"primaryKey;size:36;comment:运行ID"`
	Trigger    string         `gorm:"size:16;not null;comment:触发方式"`
	StartedAt  time.Time      `gorm:"not null;index;comment:开始时间"`
	FinishedAt *time.Time     `gorm:"comment:结束时间"`
	Success    bool           `gorm:"not null;comment:是否成功"`
	Error      *string        `gorm:"type:text;comment:致命错误"`
	ReportJSON datatypes.JSON `gorm:"comment:运行报告"`
}

func (IngestionRun) TableName() string {
	return "ingestion_runs"
}
