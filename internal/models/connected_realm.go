package models

import "time"

type ConnectedRealm struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement;comment:内部ID"`
	ConnectedRealmID int64     `gorm:"uniqueIndex;not null;comment:外部连接服务器ID"`
	Name             string    `gorm:"type:text;not null;comment:服务器名称"`
	PopulationType   *string   `gorm:"size:64;comment:人口类型"`
	Population       int64     `gorm:"not null;default:0;comment:人口数"`
	Logs             int64     `gorm:"not null;default:0;comment:日志数"`
	RealmCategory    *string   `gorm:"size:64;comment:服务器分类"`
	Status           *string   `gorm:"size:64;comment:状态"`
	LastUpdated      time.Time `gorm:"not null;comment:最近更新时间"`

	Auctions []Auction `gorm:"foreignKey:ConnectedRealmID" json:"-"`
}

func (ConnectedRealm) TableName() string {
	return "connected_realms"
}
