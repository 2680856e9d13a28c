package models

import "time"

// SteamAccount links a user to one of their Dota 2 Steam accounts.
type SteamAccount struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Steam32ID uint32    `gorm:"not null;uniqueIndex" json:"steam32_id"`
	Name      string    `gorm:"type:varchar(150)" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
