package api

import (
	"time"
)

// ============================================================================
// Common Types
// ============================================================================

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error" description:"Error message"`
	Details string `json:"details,omitempty" description:"Additional error details"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status" example:"ok" description:"Health status"`
	Version string `json:"version" example:"dev" description:"Application version"`
}

// ============================================================================
// Accounts Types
// ============================================================================

// AccountCreateRequest registers a new account for authentication.
type AccountCreateRequest struct {
	Phone   string `json:"phone" description:"Phone number in international format"`
	APIID   int    `json:"api_id" description:"Telegram application api_id"`
	APIHash string `json:"api_hash" description:"Telegram application api_hash"`
}

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	ID                int64      `json:"id"`
	Phone             string     `json:"phone"`
	Status            string     `json:"status"`
	RateLimitMode     string     `json:"rate_limit_mode"`
	MessagesCollected int64      `json:"messages_collected"`
	ErrorsCount       int64      `json:"errors_count"`
	LastActivityAt    *time.Time `json:"last_activity_at,omitempty"`
	LastErrorMessage  *string    `json:"last_error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// AccountWithGroupsResponse is an account plus the dialogs it owns, for
// list_with_groups.
type AccountWithGroupsResponse struct {
	AccountResponse
	Dialogs []DialogResponse `json:"dialogs"`
}

// AccountsListResponse wraps a list of accounts.
type AccountsListResponse struct {
	Accounts []AccountResponse `json:"accounts"`
	Total    int               `json:"total"`
}

// SubmitCodeRequest completes the phone-code auth step.
type SubmitCodeRequest struct {
	Code string `json:"code"`
}

// SubmitPasswordRequest completes the 2FA auth step.
type SubmitPasswordRequest struct {
	Password string `json:"password"`
}

// ============================================================================
// Dialogs Types
// ============================================================================

// DialogPreviewResponse is one entry from list_available: a dialog visible
// to the account's Telegram session that is not yet a managed dialog.
type DialogPreviewResponse struct {
	UpstreamID  int64  `json:"upstream_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	MemberCount int    `json:"member_count,omitempty"`
}

// AvailableDialogsResponse wraps list_available's results.
type AvailableDialogsResponse struct {
	Dialogs []DialogPreviewResponse `json:"dialogs"`
}

// AddDialogsRequest adds one or more visible dialogs as managed dialogs.
type AddDialogsRequest struct {
	UpstreamIDs     []int64 `json:"upstream_ids"`
	DownloadMedia   bool    `json:"download_media"`
	OCREnabled      bool    `json:"ocr_enabled"`
	BackfillEnabled bool    `json:"backfill_enabled"`
}

// DialogResponse represents a managed dialog in API responses.
type DialogResponse struct {
	ID              int64      `json:"id"`
	UpstreamID      int64      `json:"upstream_id"`
	Type            string     `json:"type"`
	Title           string     `json:"title"`
	Username        *string    `json:"username,omitempty"`
	MemberCount     int        `json:"member_count"`
	AssignedAccount *int64     `json:"assigned_account_id,omitempty"`
	Status          string     `json:"status"`
	DownloadMedia   bool       `json:"download_media"`
	OCREnabled      bool       `json:"ocr_enabled"`
	BackfillEnabled bool       `json:"backfill_enabled"`
	IsMonitoring    bool       `json:"is_monitoring"`
	BackfillFrontier int64     `json:"backfill_frontier"`
	LastError       *string    `json:"last_error,omitempty"`
}

// DialogsListResponse wraps a list of managed dialogs.
type DialogsListResponse struct {
	Dialogs []DialogResponse `json:"dialogs"`
	Total   int              `json:"total"`
}

// AssignDialogRequest assigns (or reassigns) a dialog to an account.
// AccountID nil means auto-assign to the least-loaded account.
type AssignDialogRequest struct {
	AccountID *int64 `json:"account_id,omitempty"`
}

// SetDialogOptionsRequest updates per-dialog feature flags.
type SetDialogOptionsRequest struct {
	DownloadMedia   bool `json:"download_media"`
	OCREnabled      bool `json:"ocr_enabled"`
	BackfillEnabled bool `json:"backfill_enabled"`
}

// ============================================================================
// Invites Types
// ============================================================================

// InviteCreateRequest submits a new invite link for resolution.
type InviteCreateRequest struct {
	Link string `json:"link"`
}

// InviteResponse represents an invite in API responses.
type InviteResponse struct {
	ID                 int64      `json:"id"`
	Link               string     `json:"link"`
	InviteHash         string     `json:"invite_hash"`
	Status             string     `json:"status"`
	PreviewTitle       *string    `json:"preview_title,omitempty"`
	PreviewAbout       *string    `json:"preview_about,omitempty"`
	PreviewMemberCount *int       `json:"preview_member_count,omitempty"`
	PreviewIsChannel   bool       `json:"preview_is_channel"`
	JoinedByAccount    *int64     `json:"joined_by_account_id,omitempty"`
	JoinedAt           *time.Time `json:"joined_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// InvitesListResponse wraps a list of invites.
type InvitesListResponse struct {
	Invites []InviteResponse `json:"invites"`
	Total   int              `json:"total"`
}

// JoinInviteRequest drives join_now's account selection and post-join
// policy.
type JoinInviteRequest struct {
	AccountID     *int64 `json:"account_id,omitempty"`
	Monitor       bool   `json:"monitor"`
	Backfill      bool   `json:"backfill"`
	ScrapeMembers bool   `json:"scrape_members"`
	DownloadMedia bool   `json:"download_media"`
}

// ============================================================================
// Schedulers Types
// ============================================================================

// SchedulerStatusResponse is one scanner's current configuration and
// in-flight state.
type SchedulerStatusResponse struct {
	Name     string `json:"name"`
	Interval string `json:"interval"`
	Running  bool   `json:"running"`
}

// SchedulersStatusResponse wraps every scanner's status.
type SchedulersStatusResponse struct {
	Schedulers []SchedulerStatusResponse `json:"schedulers"`
}

// SchedulerSettingsRequest updates a named scanner's interval.
type SchedulerSettingsRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

// ============================================================================
// Search Types
// ============================================================================

// SearchResultResponse is one matched message.
type SearchResultResponse struct {
	MessageID int64   `json:"message_id"`
	DialogID  int64   `json:"dialog_id"`
	Text      string  `json:"text"`
	Rank      float64 `json:"rank"`
}

// SearchUserResultResponse is one matched user.
type SearchUserResultResponse struct {
	UserID   int64   `json:"user_id"`
	Username string  `json:"username"`
	FullName string  `json:"full_name"`
	Rank     float64 `json:"rank"`
}

// SearchDetectionResultResponse is one matched detection.
type SearchDetectionResultResponse struct {
	DetectionID   int64  `json:"detection_id"`
	MessageID     int64  `json:"message_id"`
	DetectionType string `json:"detection_type"`
	MatchedText   string `json:"matched_text"`
	Context       string `json:"context"`
}

// SearchResponse wraps every requested result type. Fields are omitted
// from the JSON body when that type wasn't requested.
type SearchResponse struct {
	Messages   []SearchResultResponse          `json:"messages,omitempty"`
	Users      []SearchUserResultResponse       `json:"users,omitempty"`
	Detections []SearchDetectionResultResponse `json:"detections,omitempty"`
}
