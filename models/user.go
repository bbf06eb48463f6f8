package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a platform user identified by a wallet address.
type User struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"wallet_address"`
	ProfilePic    string    `json:"profile_pic,omitempty"`
	PasswordHash  string    `json:"-"` // Never serialize password hash
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
