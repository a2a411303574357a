package models

import "time"

// Item is a catalog entry keyed by the upstream item id.
type Item struct {
	ItemID              int64     `gorm:"primaryKey;autoIncrement:false;column:item_id;comment:物品ID"`
	ItemName            string    `gorm:"type:text;not null;comment:物品名称"`
	ItemClassID         int64     `gorm:"not null;index;comment:类别ID"`
	ItemClassName       string    `gorm:"type:text;comment:类别名称"`
	ItemSubclassID      int64     `gorm:"not null;comment:子类别ID"`
	ItemSubclassName    string    `gorm:"type:text;comment:子类别名称"`
	DisplaySubclassName *string   `gorm:"type:text;comment:显示子类别"`
	Extension           *string   `gorm:"size:64;index;comment:来源标签"`
	LastSeenAt          time.Time `gorm:"not null;comment:最近同步时间"`

	// Declared here so migrations emit auctions.item_id and commodities.item_id
	// foreign keys; never loaded.
	Auctions    []Auction   `gorm:"foreignKey:ItemID;references:ItemID" json:"-"`
	Commodities []Commodity `gorm:"foreignKey:ItemID;references:ItemID" json:"-"`
}

func (Item) TableName() string {
	return "items"
}
