package web

import (
	"encoding/json"
	"testing"
)

func TestNewMessageEvent_CreatesValidJSON(t *testing.T) {
	sender := int64(42)
	event := NewMessageEvent(1, 2, &sender, true)

	var wsEvent WSEvent
	if err := json.Unmarshal(event, &wsEvent); err != nil {
		t.Fatal(err)
	}
	if wsEvent.Type != EventNewMessage {
		t.Errorf("expected type %s, got %s", EventNewMessage, wsEvent.Type)
	}

	payload, ok := wsEvent.Payload.(map[string]interface{})
	if !ok {
		t.Fatal("payload is not a map")
	}
	if payload["dialog_id"] != float64(1) {
		t.Errorf("expected dialog_id 1, got %v", payload["dialog_id"])
	}
	if payload["has_media"] != true {
		t.Errorf("expected has_media true, got %v", payload["has_media"])
	}
}

func TestNewDetectionEvent_CreatesValidJSON(t *testing.T) {
	event := NewDetectionEvent(7, "email", "user@example.com")

	var wsEvent WSEvent
	if err := json.Unmarshal(event, &wsEvent); err != nil {
		t.Fatal(err)
	}
	if wsEvent.Type != EventNewDetection {
		t.Errorf("expected type %s, got %s", EventNewDetection, wsEvent.Type)
	}

	payload, ok := wsEvent.Payload.(map[string]interface{})
	if !ok {
		t.Fatal("payload is not a map")
	}
	if payload["matched_text"] != "user@example.com" {
		t.Errorf("expected matched_text user@example.com, got %v", payload["matched_text"])
	}
}

func TestBackfillProgressEvent_CreatesValidJSON(t *testing.T) {
	event := BackfillProgressEvent(3, 1000, 50, false)

	var wsEvent WSEvent
	if err := json.Unmarshal(event, &wsEvent); err != nil {
		t.Fatal(err)
	}
	if wsEvent.Type != EventBackfillProgress {
		t.Errorf("expected type %s, got %s", EventBackfillProgress, wsEvent.Type)
	}

	payload, ok := wsEvent.Payload.(map[string]interface{})
	if !ok {
		t.Fatal("payload is not a map")
	}
	if payload["frontier"] != float64(1000) {
		t.Errorf("expected frontier 1000, got %v", payload["frontier"])
	}
	if payload["done"] != false {
		t.Errorf("expected done false, got %v", payload["done"])
	}
}
