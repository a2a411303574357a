package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncState records the last attempt and outcome of one ingestion stage.
type SyncState struct {
	Scope         string         `gorm:"primaryKey;size:128;comment:阶段标识"`
	LastSuccessAt *time.Time     `gorm:"comment:最近成功时间"`
	LastAttemptAt *time.Time     `gorm:"comment:最近尝试时间"`
	LastError     *string        `gorm:"type:text;comment:最近错误信息"`
	StatsJSON     datatypes.JSON `gorm:"comment:本轮统计JSON"`
}

func (SyncState) TableName() string {
	return "sync_state"
}
