// Package extractor scans message text against the detector taxonomy and
// produces detections with surrounding context.
package extractor

import (
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/models"
)

// Match is a single pattern hit against a scanned text, before it is
// attached to a message and persisted as a models.Detection.
type Match struct {
	DetectorID      int64
	DetectorName    string
	Type            models.DetectionType
	MatchedText     string
	NormalizedValue string
	ContextBefore   string
	ContextAfter    string
}

// Extractor holds the active detector set and a bounded cache of compiled
// patterns. Detectors are re-sorted by priority (highest first) whenever
// SetDetectors is called, mirroring the ORDER BY priority DESC query the
// original service ran on every scan.
type Extractor struct {
	contextChars int

	mu        sync.RWMutex
	detectors []models.Detector

	cacheMu sync.Mutex
	cache   map[int64]*list.Element
	order   *list.List // front = most recently used
	maxSize int
}

type cacheEntry struct {
	detectorID int64
	re         *regexp2.Regexp
}

// New builds an Extractor from cfg's detection knobs. Call SetDetectors
// before the first Extract to populate the active taxonomy.
func New(cfg *config.Config) *Extractor {
	size := cfg.DetectionCacheSize
	if size <= 0 {
		size = 1000
	}
	return &Extractor{
		contextChars: cfg.DetectionContextChars,
		cache:        make(map[int64]*list.Element),
		order:        list.New(),
		maxSize:      size,
	}
}

// SetDetectors replaces the active detector set, sorted by descending
// priority so higher-priority patterns are tried (and dedup-win) first.
func (e *Extractor) SetDetectors(detectors []models.Detector) {
	sorted := make([]models.Detector, len(detectors))
	copy(sorted, detectors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	e.mu.Lock()
	e.detectors = sorted
	e.mu.Unlock()
}

// compile returns the compiled pattern for a detector, using a bounded LRU
// cache so a large or dynamically-grown detector set never holds more than
// maxSize compiled regexes at once. Patterns run through regexp2 rather
// than the stdlib engine so detectors can use lookaround, e.g. a phone
// detector that excludes digits already part of a longer ID via
// (?<!\d) / (?!\d) boundaries.
func (e *Extractor) compile(d models.Detector) (*regexp2.Regexp, error) {
	e.cacheMu.Lock()
	if el, ok := e.cache[d.ID]; ok {
		e.order.MoveToFront(el)
		e.cacheMu.Unlock()
		return el.Value.(*cacheEntry).re, nil
	}
	e.cacheMu.Unlock()

	re, err := regexp2.Compile(d.Pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("compile detector %q: %w", d.Name, err)
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if el, ok := e.cache[d.ID]; ok {
		e.order.MoveToFront(el)
		return el.Value.(*cacheEntry).re, nil
	}
	el := e.order.PushFront(&cacheEntry{detectorID: d.ID, re: re})
	e.cache[d.ID] = el
	for e.order.Len() > e.maxSize {
		oldest := e.order.Back()
		if oldest == nil {
			break
		}
		e.order.Remove(oldest)
		delete(e.cache, oldest.Value.(*cacheEntry).detectorID)
	}
	return re, nil
}

// Extract scans text against every active detector and returns matches in
// detector-priority order, deduplicated by (category, lowercased match)
// within this single scan.
func (e *Extractor) Extract(text string) []Match {
	if text == "" {
		return nil
	}

	e.mu.RLock()
	detectors := e.detectors
	e.mu.RUnlock()

	contextChars := e.contextChars
	if contextChars <= 0 {
		contextChars = 50
	}

	// regexp2 reports Index/Length in runes, not bytes, so context windows
	// are sliced against the rune view of the text.
	runes := []rune(text)

	seen := make(map[string]struct{})
	var matches []Match

	for _, d := range detectors {
		if !d.IsActive {
			continue
		}
		re, err := e.compile(d)
		if err != nil {
			continue
		}

		m, err := re.FindStringMatch(text)
		for ; m != nil && err == nil; m, err = re.FindNextMatch(m) {
			start, end := m.Index, m.Index+m.Length
			matched := m.String()

			key := string(d.Category) + "\x00" + strings.ToLower(matched)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			ctxStart := start - contextChars
			if ctxStart < 0 {
				ctxStart = 0
			}
			ctxEnd := end + contextChars
			if ctxEnd > len(runes) {
				ctxEnd = len(runes)
			}

			matches = append(matches, Match{
				DetectorID:      d.ID,
				DetectorName:    d.Name,
				Type:            d.Category,
				MatchedText:     matched,
				NormalizedValue: Normalize(d.Category, matched),
				ContextBefore:   string(runes[ctxStart:start]),
				ContextAfter:    string(runes[end:ctxEnd]),
			})
		}
	}

	return matches
}

// Normalize reduces a matched value to a canonical form for deduplication
// and lookups across messages, independent of the exact text that matched.
func Normalize(category models.DetectionType, matched string) string {
	switch category {
	case models.DetectionTypeEmail:
		return strings.ToLower(strings.TrimSpace(matched))
	case models.DetectionTypePhone:
		var b strings.Builder
		for i, r := range matched {
			if r == '+' && i == 0 {
				b.WriteRune(r)
				continue
			}
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	case models.DetectionTypeTelegramUsername:
		return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(matched), "@"))
	case models.DetectionTypeURL, models.DetectionTypeTelegramLink, models.DetectionTypeInviteLink:
		return strings.ToLower(strings.TrimSpace(matched))
	default:
		return strings.TrimSpace(matched)
	}
}
