package models

import "time"

// Server holds the per-guild configuration.
type Server struct {
	ID        string  `gorm:"primaryKey"`
	ChannelID *string `gorm:"column:channel_id"`
	RoleID    *string `gorm:"column:role_id"`

	Birthdays []Birthday `gorm:"foreignKey:ServerID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// Birthday represents a user's birthday within one guild.
type Birthday struct {
	UserID   string `gorm:"primaryKey"`
	ServerID string `gorm:"primaryKey"`

	// Birthday is stored as a UTC date; only month and day recur.
	// Nil once the user clears it.
	Birthday   *time.Time `gorm:"type:date"`
	TimeZone   string     `gorm:"not null;default:'America/New_York'"`
	UpdatedOn  time.Time  `gorm:"not null"`
	IsBirthday bool       `gorm:"not null;default:false"`
}
