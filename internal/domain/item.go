package domain

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Reserved JSON field names of an Item. Every other field belongs to the payload.
const (
	FieldKey       = "key"
	FieldTimestamp = "timestamp"
)

// Item is one keyed snapshot of measurements.
// Key and Timestamp drive batching; Payload is opaque and reaches the sink untouched.
type Item struct {
	// Key identifies the logical subject of the snapshot (a page, a route).
	Key string

	// Timestamp is when the snapshot was taken.
	Timestamp time.Time

	// Payload carries the measurements.
	Payload map[string]any
}

// Validate reports whether the item can enter the pipeline.
func (it Item) Validate() error {
	if it.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidItem)
	}
	if it.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp for key %q", ErrInvalidItem, it.Key)
	}
	return nil
}

// Has returns true if the payload carries a non-nil value for field.
func (it Item) Has(field string) bool {
	v, ok := it.Payload[field]
	return ok && v != nil
}

// With returns a copy of the item with field set in its payload.
func (it Item) With(field string, value any) Item {
	payload := make(map[string]any, len(it.Payload)+1)
	for k, v := range it.Payload {
		payload[k] = v
	}
	payload[field] = value
	it.Payload = payload
	return it
}

// MarshalJSON flattens the item: key and timestamp (unix milliseconds) sit
// next to the payload fields.
func (it Item) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(it.Payload)+2)
	for k, v := range it.Payload {
		flat[k] = v
	}
	flat[FieldKey] = it.Key
	flat[FieldTimestamp] = it.Timestamp.UnixMilli()
	return json.Marshal(flat)
}

// UnmarshalJSON accepts the flat form produced by MarshalJSON.
func (it *Item) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	key, ok := flat[FieldKey].(string)
	if !ok {
		return fmt.Errorf("%w: key must be a string", ErrInvalidItem)
	}
	ts, ok := flat[FieldTimestamp].(float64)
	if !ok {
		return fmt.Errorf("%w: timestamp must be a number", ErrInvalidItem)
	}
	delete(flat, FieldKey)
	delete(flat, FieldTimestamp)

	it.Key = key
	it.Timestamp = time.UnixMilli(int64(ts))
	it.Payload = flat
	return nil
}
