package models

import "time"

// MediaFileType enumerates the Telegram media kinds the pipeline handles.
type MediaFileType string

// MediaFileType constants.
const (
	MediaTypePhoto     MediaFileType = "photo"
	MediaTypeVideo     MediaFileType = "video"
	MediaTypeGIF       MediaFileType = "gif"
	MediaTypeAudio     MediaFileType = "audio"
	MediaTypeVoice     MediaFileType = "voice"
	MediaTypeDocument  MediaFileType = "document"
	MediaTypeSticker   MediaFileType = "sticker"
	MediaTypeVideoNote MediaFileType = "video_note"
)

// ValidationStatus is the post-download format/integrity check result.
type ValidationStatus string

// ValidationStatus constants.
const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValid     ValidationStatus = "valid"
	ValidationInvalid   ValidationStatus = "invalid"
	ValidationCorrupted ValidationStatus = "corrupted"
)

// ProcessingStatus is the media pipeline's lifecycle for one file.
type ProcessingStatus string

// ProcessingStatus constants.
const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingQueued     ProcessingStatus = "queued"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// DuplicateDetectionMethod records how a MediaFile was recognized as a duplicate.
type DuplicateDetectionMethod string

// DuplicateDetectionMethod constants.
const (
	DuplicateNone       DuplicateDetectionMethod = ""
	DuplicateByHash     DuplicateDetectionMethod = "content_hash"
	DuplicateByPerceptual DuplicateDetectionMethod = "perceptual"
)

// MediaFile is the one-row-per-message media record.
// Unique key: message_id.
type MediaFile struct {
	ID        int64         `db:"id"`
	MessageID int64         `db:"message_id"`
	FileType  MediaFileType `db:"file_type"`

	FilePath *string `db:"file_path"`
	FileSize int64   `db:"file_size"`
	MimeType *string `db:"mime_type"`
	Width    *int    `db:"width"`
	Height   *int    `db:"height"`
	Duration *int    `db:"duration"`

	ContentHash     *string `db:"content_hash"`
	PerceptualHash  *uint64 `db:"perceptual_hash"`
	DuplicateMethod DuplicateDetectionMethod `db:"duplicate_detection_method"`

	DownloadAttempts      int        `db:"download_attempts"`
	LastDownloadAttempt    *time.Time `db:"last_download_attempt"`
	DownloadErrorCategory *string    `db:"download_error_category"`

	ValidationStatus  ValidationStatus `db:"validation_status"`
	ProcessingStatus  ProcessingStatus `db:"processing_status"`
	ProcessingPriority int             `db:"processing_priority"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsComplete enforces the invariant: completed => file_path set and valid.
func (m *MediaFile) IsComplete() bool {
	return m.ProcessingStatus == ProcessingCompleted && m.FilePath != nil && m.ValidationStatus == ValidationValid
}

// ProfilePhoto is a historical profile photo of a User.
// Unique key: (user_id, upstream_photo_id).
type ProfilePhoto struct {
	ID              int64     `db:"id"`
	UserID          int64     `db:"user_id"`
	UpstreamPhotoID int64     `db:"upstream_photo_id"`
	IsCurrent       bool      `db:"is_current"`
	IsVideo         bool      `db:"is_video"`
	CapturedAt      time.Time `db:"captured_at"`
	FilePath        *string   `db:"file_path"`
	CreatedAt       time.Time `db:"created_at"`
}

// Story is a captured ephemeral Telegram story.
type Story struct {
	ID              int64     `db:"id"`
	UserID          int64     `db:"user_id"`
	UpstreamStoryID int64     `db:"upstream_story_id"`
	FilePath        *string   `db:"file_path"`
	ExpiresAt       time.Time `db:"expires_at"`
	ViewsCount      int       `db:"views_count"`
	IsPinned        bool      `db:"is_pinned"`
	CreatedAt       time.Time `db:"created_at"`
}
