package models

import "time"

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User is the subscription owner. The core only reads users.
type User struct {
	ID            int64      `json:"id"`
	Plan          string     `json:"plan"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`
	Status        UserStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}

// PlanActive reports whether the user may still use the purchased plan.
func (u *User) PlanActive(now time.Time) bool {
	if u.Status != UserStatusActive {
		return false
	}
	return u.PlanExpiresAt == nil || now.Before(*u.PlanExpiresAt)
}

// SystemUserID owns jobs created by the scheduler and the queue monitor.
const SystemUserID int64 = 0
