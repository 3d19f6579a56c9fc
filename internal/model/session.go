package model

import "time"

type Identity struct {
	ID           int64     `json:"id"`
	EmailAddress string    `json:"email_address"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type User struct {
	ID         int64     `json:"id"`
	IdentityID int64     `json:"identity_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Session struct {
	ID           int64      `json:"id"`
	Token        string     `json:"token"`
	IdentityID   int64      `json:"identity_id"`
	UserAgent    string     `json:"user_agent"`
	IPAddress    string     `json:"ip_address"`
	LastActiveAt *time.Time `json:"last_active_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MagicLink is a one-time sign-in code. Only the bcrypt hash of the code is
// persisted; Code is populated when the link is first created.
type MagicLink struct {
	ID         int64     `json:"id"`
	IdentityID int64     `json:"identity_id"`
	Code       string    `json:"-"`
	CodeHash   string    `json:"-"`
	Purpose    string    `json:"purpose"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *MagicLink) Expired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}
