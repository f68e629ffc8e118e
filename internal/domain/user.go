package domain

import "time"

// User Model
type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`                 // ULID
	Username  string    `gorm:"size:64;uniqueIndex;not null" json:"username"` // Unique username
	Password  string    `gorm:"size:255;not null" json:"-"`                   // Hashed password
	Role      string    `gorm:"size:16;default:user" json:"role"`             // Role: user or admin
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
