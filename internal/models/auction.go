package models

import "time"

// Auction rows are never deleted. A realm snapshot flips the previous rows to
// inactive and upserts the fetched ones as active.
type Auction struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement;comment:内部ID"`
	AuctionID        int64     `gorm:"not null;uniqueIndex:idx_auction_id_realm_id,priority:1;comment:外部拍卖ID"`
	ConnectedRealmID uint64    `gorm:"not null;uniqueIndex:idx_auction_id_realm_id,priority:2;index:idx_auctions_realm_active,priority:1;comment:连接服务器内部ID"`
	ItemID           int64     `gorm:"not null;index;comment:物品ID"`
	BuyoutPrice      *int64    `gorm:"comment:一口价(铜币)"`
	Quantity         int64     `gorm:"not null;comment:数量"`
	TimeLeft         string    `gorm:"size:32;comment:剩余时间"`
	LastModified     time.Time `gorm:"not null;comment:快照时间"`
	Active           bool      `gorm:"not null;index:idx_auctions_realm_active,priority:2;comment:是否在最新快照中"`
}

func (Auction) TableName() string {
	return "auctions"
}
