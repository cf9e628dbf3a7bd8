package model

import "time"

// Credential holds one stored secret. Service identifies what it unlocks
// ("remote_url", "remote_key").
type Credential struct {
	ID        int64
	Service   string
	Value     string
	UpdatedAt time.Time
}

// User is an entry of the local user list checked at login.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
