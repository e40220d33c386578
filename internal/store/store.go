package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	appLog "keydates/internal/log"
	"keydates/internal/model"
)

// DefaultKey is the storage key holding the serialized event list.
const DefaultKey = "eventList"

// EventStore persists the whole event collection as one JSON array under a
// single key. Every save rewrites the full blob.
type EventStore struct {
	backend Backend
	key     string
}

// New returns an EventStore over backend. An empty key means DefaultKey.
func New(backend Backend, key string) *EventStore {
	if key == "" {
		key = DefaultKey
	}
	return &EventStore{backend: backend, key: key}
}

// Key returns the storage key of the blob.
func (s *EventStore) Key() string { return s.key }

// record mirrors model.Event with pointer fields so that absent (or null)
// fields can be told apart from zero values.
type record struct {
	ID          *string `json:"id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Day         *int    `json:"day"`
	Month       *int    `json:"month"`
	Year        *int    `json:"year"`
	Hour        *int    `json:"hour"`
	Minute      *int    `json:"minute"`
}

// LoadAll returns the persisted events in stored order. A missing blob
// yields an empty slice. A blob that exists but is malformed yields a
// *CorruptError and no events at all.
func (s *EventStore) LoadAll(ctx context.Context) ([]model.Event, error) {
	data, found, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read store %q: %w", s.key, err)
	}
	if !found {
		appLog.Debug("store: no blob yet", "key", s.key)
		return []model.Event{}, nil
	}

	events, err := decodeEvents(s.key, data)
	if err != nil {
		return nil, err
	}

	appLog.Debug("store: loaded", "key", s.key, "count", len(events))
	return events, nil
}

func decodeEvents(key string, data []byte) ([]model.Event, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, &CorruptError{Key: key, Index: -1, Err: errors.New("blob is null, want array")}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &CorruptError{Key: key, Index: -1, Err: err}
	}

	events := make([]model.Event, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for i, msg := range raw {
		var r record
		if err := json.Unmarshal(msg, &r); err != nil {
			ce := &CorruptError{Key: key, Index: i, Err: err}
			var ute *json.UnmarshalTypeError
			if errors.As(err, &ute) {
				ce.Field = ute.Field
			}
			return nil, ce
		}

		if field := r.missingField(); field != "" {
			return nil, &CorruptError{Key: key, Index: i, Field: field, Err: errors.New("required field missing")}
		}
		if seen[*r.ID] {
			return nil, &CorruptError{Key: key, Index: i, Field: "id", Err: fmt.Errorf("duplicate id %q", *r.ID)}
		}
		seen[*r.ID] = true

		events = append(events, model.Event{
			ID:          *r.ID,
			Title:       *r.Title,
			Description: *r.Description,
			Day:         *r.Day,
			Month:       *r.Month,
			Year:        *r.Year,
			Hour:        *r.Hour,
			Minute:      *r.Minute,
		})
	}

	return events, nil
}

func (r record) missingField() string {
	switch {
	case r.ID == nil:
		return "id"
	case r.Title == nil:
		return "title"
	case r.Description == nil:
		return "description"
	case r.Day == nil:
		return "day"
	case r.Month == nil:
		return "month"
	case r.Year == nil:
		return "year"
	case r.Hour == nil:
		return "hour"
	case r.Minute == nil:
		return "minute"
	}
	return ""
}

// SaveAll replaces the persisted blob with events. On failure the previous
// blob is left in place and a *WriteError is returned.
func (s *EventStore) SaveAll(ctx context.Context, events []model.Event) error {
	if events == nil {
		events = []model.Event{}
	}

	data, err := json.Marshal(events)
	if err != nil {
		return &WriteError{Key: s.key, Op: "encode", Err: err}
	}

	if err := s.backend.Put(ctx, s.key, data); err != nil {
		appLog.Error("store: write failed", err, "key", s.key, "count", len(events))
		return &WriteError{Key: s.key, Op: "write", Err: err}
	}

	appLog.Debug("store: saved", "key", s.key, "count", len(events), "bytes", len(data))
	return nil
}

// Close releases the backend.
func (s *EventStore) Close() error {
	return s.backend.Close()
}
