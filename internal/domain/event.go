package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types the metric registry reads from.
const (
	EventServiceOpen = "service_open"
	EventPageView    = "page_view"
	EventScroll      = "scroll"
	EventSectionView = "section_view"
	EventClick       = "click"
)

// MaxTypeLength bounds Event.Type at the persistence boundary.
const MaxTypeLength = 80

// Event is a sanitized analytics event, safe to persist.
type Event struct {
	ID        uuid.UUID
	Type      string
	SessionID string
	Page      string
	Metadata  map[string]Value
	CreatedAt time.Time
}

// MetadataJSON encodes the metadata with sorted keys.
func (e Event) MetadataJSON() ([]byte, error) {
	return json.Marshal(MapValue(e.Metadata))
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
