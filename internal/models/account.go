package models

import "time"

type AccountStatus string

const (
	AccountStatusPendingVerification AccountStatus = "pending_verification"
	AccountStatusActive              AccountStatus = "active"
	AccountStatusInactive            AccountStatus = "inactive"
	AccountStatusDisconnected        AccountStatus = "disconnected"
)

// LinkedAccount is one external platform identity owned by a user.
// Credential is an opaque blob (bot token or session string) and is
// encrypted at rest when encryption is enabled.
type LinkedAccount struct {
	ID          int64         `json:"id"`
	UserID      int64         `json:"user_id"`
	Platform    Platform      `json:"platform"`
	Credential  string        `json:"-"`
	DisplayName string        `json:"display_name,omitempty"`
	Status      AccountStatus `json:"status"`
	LastSeen    *time.Time    `json:"last_seen,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Usable reports whether the registry may open a session for the account.
func (a *LinkedAccount) Usable() bool {
	return a.Status == AccountStatusActive || a.Status == AccountStatusDisconnected
}
