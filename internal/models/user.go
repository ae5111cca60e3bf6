package models

import "time"

// User is a Telegram participant (not necessarily an engine Account).
// Unique key: upstream_id.
type User struct {
	ID         int64  `db:"id"`
	UpstreamID int64  `db:"upstream_id"`
	AccessHash int64  `db:"access_hash"`
	Username   *string `db:"username"`
	FirstName  *string `db:"first_name"`
	LastName   *string `db:"last_name"`
	Phone      *string `db:"phone"`
	Bio        *string `db:"bio"`

	IsBot        bool `db:"is_bot"`
	IsVerified   bool `db:"is_verified"`
	IsPremium    bool `db:"is_premium"`
	IsScam       bool `db:"is_scam"`
	IsFake       bool `db:"is_fake"`
	IsRestricted bool `db:"is_restricted"`
	IsDeleted    bool `db:"is_deleted"`
	HasStories   bool `db:"has_stories"`

	LastSeen         *time.Time `db:"last_seen"`
	CurrentPhotoID   *int64     `db:"current_photo_id"`
	LastEnrichedAt   *time.Time `db:"last_enriched_at"`

	MessagesCount int64 `db:"messages_count"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IdentityField enumerates the User fields tracked by IdentityChange.
type IdentityField string

// IdentityField constants.
const (
	IdentityFieldUsername  IdentityField = "username"
	IdentityFieldFirstName IdentityField = "first_name"
	IdentityFieldLastName  IdentityField = "last_name"
	IdentityFieldPhone     IdentityField = "phone"
)

// IdentityChange is an append-only record of an observed identity mutation.
type IdentityChange struct {
	ID        int64         `db:"id"`
	UserID    int64         `db:"user_id"`
	Field     IdentityField `db:"field"`
	OldValue  *string       `db:"old_value"`
	NewValue  *string       `db:"new_value"`
	ChangedAt time.Time     `db:"changed_at"`
}

// Membership links a User to a Dialog.
type Membership struct {
	ID          int64      `db:"id"`
	UserID      int64      `db:"user_id"`
	DialogID    int64      `db:"dialog_id"`
	JoinedAt    *time.Time `db:"joined_at"`
	IsAdmin     bool       `db:"is_admin"`
	AdminTitle  *string    `db:"admin_title"`
	IsActive    bool       `db:"is_active"`
	LeaveReason *string    `db:"leave_reason"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// MergePolicy controls which User fields upsert_user treats as identity-tracked.
type MergePolicy struct {
	TrackUsername  bool
	TrackFirstName bool
	TrackLastName  bool
	TrackPhone     bool
}

// DefaultMergePolicy tracks every identity field used to detect a user change.
func DefaultMergePolicy() MergePolicy {
	return MergePolicy{TrackUsername: true, TrackFirstName: true, TrackLastName: true, TrackPhone: true}
}
