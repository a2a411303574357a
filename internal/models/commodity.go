package models

import "time"

// Commodity is a realm-independent listing aggregated per (item, unit price).
type Commodity struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement;comment:内部ID"`
	ItemID       int64     `gorm:"not null;uniqueIndex:idx_item_unit_price,priority:1;comment:物品ID"`
	UnitPrice    int64     `gorm:"not null;uniqueIndex:idx_item_unit_price,priority:2;comment:单价(铜币)"`
	Quantity     int64     `gorm:"not null;comment:数量"`
	LastModified time.Time `gorm:"not null;comment:快照时间"`
}

func (Commodity) TableName() string {
	return "commodities"
}
