package models

import "time"

// InviteStatus enumerates the resolution/join lifecycle of an invite link.
type InviteStatus string

// InviteStatus constants.
const (
	InviteStatusPending        InviteStatus = "pending"
	InviteStatusProcessing     InviteStatus = "processing"
	InviteStatusJoined         InviteStatus = "joined"
	InviteStatusAlreadyJoined  InviteStatus = "already_joined"
	InviteStatusRequestPending InviteStatus = "request_pending"
	InviteStatusFailed         InviteStatus = "failed"
	InviteStatusExpired        InviteStatus = "expired"
	InviteStatusInvalid        InviteStatus = "invalid"
	InviteStatusPrivate        InviteStatus = "private"
)

// Invite is a resolved or pending Telegram invite link.
// Unique key: link.
type Invite struct {
	ID         int64        `db:"id"`
	Link       string       `db:"link"`
	InviteHash string       `db:"invite_hash"`
	Status     InviteStatus `db:"status"`
	RetryCount int          `db:"retry_count"`

	PreviewTitle       *string `db:"preview_title"`
	PreviewAbout       *string `db:"preview_about"`
	PreviewMemberCount *int    `db:"preview_member_count"`
	PreviewPhotoPath   *string `db:"preview_photo_path"`
	PreviewIsChannel   bool    `db:"preview_is_channel"`

	SourceGroupID *int64 `db:"source_group_id"`
	SourceUserID  *int64 `db:"source_user_id"`

	JoinedByAccount *int64     `db:"joined_by_account_id"`
	JoinedAt        *time.Time `db:"joined_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsTerminal reports whether the invite has reached a state that will not
// change without operator action.
func (i *Invite) IsTerminal() bool {
	switch i.Status {
	case InviteStatusJoined, InviteStatusAlreadyJoined, InviteStatusInvalid, InviteStatusPrivate:
		return true
	default:
		return false
	}
}
