package models

import "time"

// DialogType enumerates the kinds of chat spaces the engine monitors.
type DialogType string

// DialogType constants.
const (
	DialogTypeUser       DialogType = "user"
	DialogTypeGroup      DialogType = "group"
	DialogTypeSupergroup DialogType = "supergroup"
	DialogTypeChannel    DialogType = "channel"
)

// DialogStatus is the lifecycle state of a monitored dialog.
type DialogStatus string

// DialogStatus constants.
const (
	DialogStatusInactive    DialogStatus = "inactive"
	DialogStatusActive      DialogStatus = "active"
	DialogStatusPaused      DialogStatus = "paused"
	DialogStatusBackfilling DialogStatus = "backfilling"
	DialogStatusError       DialogStatus = "error"
)

// Dialog represents a monitored group, supergroup, channel, or 1-1 chat.
type Dialog struct {
	ID             int64        `db:"id"`
	UpstreamID     int64        `db:"upstream_id"`
	AccessHash     int64        `db:"access_hash"`
	Type           DialogType   `db:"type"`
	Title          string       `db:"title"`
	Username       *string      `db:"username"`
	MemberCount    int          `db:"member_count"`
	PhotoPath      *string      `db:"photo_path"`
	AssignedAccount *int64      `db:"assigned_account_id"`
	Status         DialogStatus `db:"status"`

	DownloadMedia   bool `db:"download_media"`
	OCREnabled      bool `db:"ocr_enabled"`
	BackfillEnabled bool `db:"backfill_enabled"`
	IsMonitoring    bool `db:"is_monitoring"`

	LastMessageIDSeen  int64      `db:"last_message_id_seen"`
	BackfillFrontier   int64      `db:"backfill_frontier"`
	LastMemberScrapeAt *time.Time `db:"last_member_scrape_at"`
	LastError          *string    `db:"last_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsMonitored reports whether a dialog is actively watched: it is only
// monitored when active and assigned to an owning account.
func (d *Dialog) IsMonitored() bool {
	return d.Status == DialogStatusActive && d.AssignedAccount != nil
}

// SupportsMemberScrape reports whether members can be listed for this dialog type.
// Channels forbid member listing via the Telegram API; only groups and supergroups allow it.
func (d *Dialog) SupportsMemberScrape() bool {
	return d.Type == DialogTypeGroup || d.Type == DialogTypeSupergroup
}
