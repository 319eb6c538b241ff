package sanitize

import (
	"time"

	"github.com/google/uuid"

	"github.com/roniherschmann/go-pulse/internal/domain"
)

// DropReason explains why an item was not turned into an event.
type DropReason string

const (
	DropNotObject    DropReason = "not_object"
	DropMissingType  DropReason = "missing_type"
	DropMissingScope DropReason = "missing_session_or_page"
)

// Sanitizer converts raw batch items into events.
type Sanitizer struct {
	now   func() time.Time
	newID func() uuid.UUID
}

func New() *Sanitizer {
	return &Sanitizer{now: time.Now, newID: uuid.New}
}

// WithClock replaces the time source. Used by tests.
func (s *Sanitizer) WithClock(now func() time.Time) *Sanitizer {
	s.now = now
	return s
}

// Batch caps raw to the first MaxBatch items.
func Batch(raw []domain.Value) []domain.Value {
	if len(raw) > MaxBatch {
		return raw[:MaxBatch]
	}
	return raw
}

// Event sanitizes a single raw item. When the item must be dropped it returns
// false and the reason; the rest of the batch is unaffected.
func (s *Sanitizer) Event(raw domain.Value) (domain.Event, DropReason, bool) {
	if raw.Kind() != domain.KindMap {
		return domain.Event{}, DropNotObject, false
	}

	typ, ok := raw.Get("type")
	if !ok {
		return domain.Event{}, DropMissingType, false
	}
	typeStr, ok := typ.AsString()
	if !ok || typeStr == "" {
		return domain.Event{}, DropMissingType, false
	}

	var metadata map[string]domain.Value
	if mv, ok := raw.Get("metadata"); ok {
		if m, ok := mv.AsMap(); ok {
			metadata = Metadata(m)
		}
	}
	if metadata == nil {
		metadata = map[string]domain.Value{}
	}

	sessionID := stringField(metadata, "sessionId", "session_id")
	page := stringField(metadata, "page")
	if sessionID == "" || page == "" {
		return domain.Event{}, DropMissingScope, false
	}

	return domain.Event{
		ID:        s.newID(),
		Type:      typeStr,
		SessionID: sessionID,
		Page:      page,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}, "", true
}

func stringField(m map[string]domain.Value, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.AsString(); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
