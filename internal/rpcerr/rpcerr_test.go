package rpcerr

import (
	"errors"
	"testing"
)

func TestClassify_FloodWait(t *testing.T) {
	err := errors.New("rpc error: code 420: FLOOD_WAIT_15")
	c := Classify(err)

	if c.Category != CategoryRateLimit {
		t.Errorf("expected CategoryRateLimit, got %s", c.Category)
	}
	if c.WaitSeconds != 15 {
		t.Errorf("expected 15 seconds, got %d", c.WaitSeconds)
	}
}

func TestClassify_PermanentKeywords(t *testing.T) {
	cases := []string{
		"CHANNEL_INVALID: not found",
		"USER_DEACTIVATED_BANNED",
		"PEER_ID_INVALID",
		"ACCESS_FORBIDDEN",
	}
	for _, msg := range cases {
		c := Classify(errors.New(msg))
		if c.Category != CategoryPermanent {
			t.Errorf("%q: expected CategoryPermanent, got %s", msg, c.Category)
		}
	}
}

func TestClassify_SessionPasswordNeededIsPermanent(t *testing.T) {
	c := Classify(errors.New("rpc error: code 401: SESSION_PASSWORD_NEEDED"))
	if c.Category != CategoryPermanent {
		t.Errorf("expected SESSION_PASSWORD_NEEDED to classify as permanent (fail fast into 2FA flow), got %s", c.Category)
	}
}

func TestClassify_RateLimitKeywords(t *testing.T) {
	c := Classify(errors.New("too many requests, slow down"))
	if c.Category != CategoryRateLimit {
		t.Errorf("expected CategoryRateLimit, got %s", c.Category)
	}
}

func TestClassify_DefaultsToTemporary(t *testing.T) {
	c := Classify(errors.New("connection reset by peer"))
	if c.Category != CategoryTemporary {
		t.Errorf("expected CategoryTemporary, got %s", c.Category)
	}
}

func TestClassify_Nil(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("expected nil classification for nil error")
	}
}

func TestClassified_UnwrapAndError(t *testing.T) {
	orig := errors.New("boom")
	c := Classify(orig)

	if !errors.Is(c, orig) {
		t.Error("expected errors.Is to unwrap to the original error")
	}
	if c.Error() != orig.Error() {
		t.Errorf("expected Error() to match original message, got %q", c.Error())
	}
}

func TestFloodWaitSeconds_NoMatch(t *testing.T) {
	if got := floodWaitSeconds("some unrelated error"); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
}

func TestClassify_FloodWaitZero(t *testing.T) {
	c := Classify(errors.New("rpc error: code 420: FLOOD_WAIT_0"))
	if c.Category != CategoryRateLimit {
		t.Errorf("expected CategoryRateLimit, got %s", c.Category)
	}
	if c.WaitSeconds != 0 {
		t.Errorf("expected 0 seconds, got %d", c.WaitSeconds)
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{What: "phone number missing"}
	if err.Error() != "rpcerr: validation failed: phone number missing" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestPersistenceError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &PersistenceError{Op: "insert message", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to unwrap to inner error")
	}
}
