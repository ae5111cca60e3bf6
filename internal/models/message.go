package models

import "time"

// Message is a single captured Telegram message.
// Unique key: (dialog_id, upstream_message_id).
type Message struct {
	ID               int64  `db:"id"`
	DialogID         int64  `db:"dialog_id"`
	UpstreamMessageID int64 `db:"upstream_message_id"`

	SenderID  *int64    `db:"sender_id"`
	Date      time.Time `db:"date"`
	Text      string    `db:"text"`
	ReplyTo   *int64    `db:"reply_to"`
	GroupedID *int64    `db:"grouped_id"`

	Views    int            `db:"views"`
	Forwards int            `db:"forwards"`
	Reactions map[string]int `db:"reactions"`

	MediaType string `db:"media_type"` // "" if no media

	CreatedAt time.Time `db:"created_at"`
}

// HasMedia reports whether this message carries an attached MediaFile.
func (m *Message) HasMedia() bool {
	return m.MediaType != ""
}
