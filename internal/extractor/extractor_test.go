package extractor

import (
	"testing"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/models"
)

func testDetectors() []models.Detector {
	return []models.Detector{
		{ID: 1, Name: "email", Pattern: `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, Category: models.DetectionTypeEmail, Priority: 100, IsActive: true},
		{ID: 2, Name: "telegram_username", Pattern: `(?<![\w.])@[a-zA-Z][a-zA-Z0-9_]{4,31}`, Category: models.DetectionTypeTelegramUsername, Priority: 50, IsActive: true},
		{ID: 3, Name: "disabled", Pattern: `nevermatch`, Category: models.DetectionTypeURL, Priority: 200, IsActive: false},
	}
}

func TestExtract_FindsEmail(t *testing.T) {
	e := New(&config.Config{DetectionCacheSize: 10, DetectionContextChars: 10})
	e.SetDetectors(testDetectors())

	matches := e.Extract("contact me at user@example.com please")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].MatchedText != "user@example.com" {
		t.Errorf("unexpected match: %q", matches[0].MatchedText)
	}
	if matches[0].NormalizedValue != "user@example.com" {
		t.Errorf("unexpected normalized value: %q", matches[0].NormalizedValue)
	}
}

func TestExtract_SkipsInactiveDetectors(t *testing.T) {
	e := New(&config.Config{DetectionCacheSize: 10, DetectionContextChars: 10})
	e.SetDetectors(testDetectors())

	matches := e.Extract("nevermatch should not trigger the disabled detector")
	for _, m := range matches {
		if m.DetectorID == 3 {
			t.Fatal("inactive detector should not produce matches")
		}
	}
}

func TestExtract_DedupesWithinScan(t *testing.T) {
	e := New(&config.Config{DetectionCacheSize: 10, DetectionContextChars: 10})
	e.SetDetectors(testDetectors())

	matches := e.Extract("email user@example.com twice: user@example.com")
	if len(matches) != 1 {
		t.Fatalf("expected deduplication to 1 match, got %d", len(matches))
	}
}

func TestExtract_ContextWindow(t *testing.T) {
	e := New(&config.Config{DetectionCacheSize: 10, DetectionContextChars: 5})
	e.SetDetectors(testDetectors())

	text := "0123456789 user@example.com 9876543210"
	matches := e.Extract(text)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].ContextBefore != "6789 " {
		t.Errorf("expected context before %q, got %q", "6789 ", matches[0].ContextBefore)
	}
	if matches[0].ContextAfter != " 9876" {
		t.Errorf("expected context after %q, got %q", " 9876", matches[0].ContextAfter)
	}
}

func TestExtract_EmptyText(t *testing.T) {
	e := New(&config.Config{DetectionCacheSize: 10})
	e.SetDetectors(testDetectors())

	if matches := e.Extract(""); matches != nil {
		t.Errorf("expected nil for empty text, got %v", matches)
	}
}

func TestExtract_PriorityOrder(t *testing.T) {
	e := New(&config.Config{DetectionCacheSize: 10, DetectionContextChars: 5})
	e.SetDetectors(testDetectors())

	matches := e.Extract("user@example.com and @johndoe123")
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].DetectorName != "email" {
		t.Errorf("expected email to be scanned first (higher priority), got %s", matches[0].DetectorName)
	}
}

func TestCompile_LRUEviction(t *testing.T) {
	e := New(&config.Config{DetectionCacheSize: 1, DetectionContextChars: 5})
	detectors := testDetectors()
	e.SetDetectors(detectors)

	if _, err := e.compile(detectors[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := e.compile(detectors[1]); err != nil {
		t.Fatal(err)
	}

	if _, ok := e.cache[detectors[0].ID]; ok {
		t.Error("expected detector 1's pattern to be evicted once cache size exceeded")
	}
	if _, ok := e.cache[detectors[1].ID]; !ok {
		t.Error("expected detector 2's pattern to remain cached")
	}
}

func TestNormalize_Phone(t *testing.T) {
	got := Normalize(models.DetectionTypePhone, "+1 (234) 567-8900")
	want := "+12345678900"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalize_TelegramUsername(t *testing.T) {
	got := Normalize(models.DetectionTypeTelegramUsername, "@JohnDoe123")
	want := "johndoe123"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
