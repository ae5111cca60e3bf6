package web

import "encoding/json"

// WebSocket event types, mirrored from the in-process event bus.
const (
	EventNewMessage       = "new_message"
	EventNewDetection     = "new_detection"
	EventBackfillProgress = "backfill_progress"
	EventDialogStatus     = "dialog_status"
	EventAccountStatus    = "account_status"
)

// WSEvent is the structured envelope for every dashboard WebSocket message.
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewMessagePayload is the payload for EventNewMessage.
type NewMessagePayload struct {
	DialogID  int64  `json:"dialog_id"`
	MessageID int64  `json:"message_id"`
	SenderID  *int64 `json:"sender_id,omitempty"`
	HasMedia  bool   `json:"has_media"`
}

// NewMessageEvent encodes a new_message event.
func NewMessageEvent(dialogID, messageID int64, senderID *int64, hasMedia bool) []byte {
	return encodeEvent(EventNewMessage, NewMessagePayload{
		DialogID: dialogID, MessageID: messageID, SenderID: senderID, HasMedia: hasMedia,
	})
}

// NewDetectionPayload is the payload for EventNewDetection.
type NewDetectionPayload struct {
	MessageID     int64  `json:"message_id"`
	DetectionType string `json:"detection_type"`
	MatchedText   string `json:"matched_text"`
}

// NewDetectionEvent encodes a new_detection event.
func NewDetectionEvent(messageID int64, detectionType, matchedText string) []byte {
	return encodeEvent(EventNewDetection, NewDetectionPayload{
		MessageID: messageID, DetectionType: detectionType, MatchedText: matchedText,
	})
}

// BackfillProgressPayload is the payload for EventBackfillProgress.
type BackfillProgressPayload struct {
	DialogID     int64 `json:"dialog_id"`
	Frontier     int64 `json:"frontier"`
	MessagesDone int   `json:"messages_done"`
	Done         bool  `json:"done"`
}

// BackfillProgressEvent encodes a backfill_progress event.
func BackfillProgressEvent(dialogID, frontier int64, messagesDone int, done bool) []byte {
	return encodeEvent(EventBackfillProgress, BackfillProgressPayload{
		DialogID: dialogID, Frontier: frontier, MessagesDone: messagesDone, Done: done,
	})
}

// DialogStatusPayload is the payload for EventDialogStatus.
type DialogStatusPayload struct {
	DialogID int64  `json:"dialog_id"`
	Status   string `json:"status"`
}

// DialogStatusEvent encodes a dialog_status event.
func DialogStatusEvent(dialogID int64, status string) []byte {
	return encodeEvent(EventDialogStatus, DialogStatusPayload{DialogID: dialogID, Status: status})
}

// AccountStatusPayload is the payload for EventAccountStatus.
type AccountStatusPayload struct {
	AccountID int64  `json:"account_id"`
	Status    string `json:"status"`
}

// AccountStatusEvent encodes an account_status event.
func AccountStatusEvent(accountID int64, status string) []byte {
	return encodeEvent(EventAccountStatus, AccountStatusPayload{AccountID: accountID, Status: status})
}

func encodeEvent(eventType string, payload interface{}) []byte {
	b, _ := json.Marshal(WSEvent{Type: eventType, Payload: payload})
	return b
}
