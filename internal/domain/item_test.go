package domain

import (
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestItem_Validate(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	tests := []struct {
		name    string
		item    Item
		wantErr bool
	}{
		{"valid", Item{Key: "/home", Timestamp: now}, false},
		{"empty key", Item{Timestamp: now}, true},
		{"zero timestamp", Item{Key: "/home"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidItem) {
				t.Errorf("Validate() error = %v, want ErrInvalidItem", err)
			}
		})
	}
}

func TestItem_JSONIsFlat(t *testing.T) {
	it := Item{
		Key:       "/checkout",
		Timestamp: time.UnixMilli(1_700_000_000_123),
		Payload:   map[string]any{"fcp": 812.5, "cls": 0.02},
	}

	data, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal flat: %v", err)
	}
	if flat["key"] != "/checkout" {
		t.Errorf("key = %v, want /checkout", flat["key"])
	}
	if flat["timestamp"] != float64(1_700_000_000_123) {
		t.Errorf("timestamp = %v, want unix millis", flat["timestamp"])
	}
	if flat["fcp"] != 812.5 {
		t.Errorf("fcp = %v, want 812.5", flat["fcp"])
	}

	var back Item
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if back.Key != it.Key || !back.Timestamp.Equal(it.Timestamp) {
		t.Errorf("round trip = %+v, want %+v", back, it)
	}
	if _, ok := back.Payload["key"]; ok {
		t.Error("payload should not retain the key field")
	}
}

func TestItem_UnmarshalRejectsMissingKey(t *testing.T) {
	var it Item
	err := json.Unmarshal([]byte(`{"timestamp": 12}`), &it)
	if !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("error = %v, want ErrInvalidItem", err)
	}
}

func TestItem_WithDoesNotAlias(t *testing.T) {
	orig := Item{Key: "k", Timestamp: time.Now(), Payload: map[string]any{"a": 1}}
	next := orig.With("network", "4g")

	if orig.Has("network") {
		t.Error("With mutated the original payload")
	}
	if !next.Has("network") || !next.Has("a") {
		t.Errorf("With payload = %v", next.Payload)
	}
}

func TestBatch_KeysDistinctInOrder(t *testing.T) {
	now := time.Now()
	b := NewBatch([]Item{
		{Key: "b", Timestamp: now},
		{Key: "a", Timestamp: now},
		{Key: "b", Timestamp: now.Add(time.Second)},
	})

	keys := b.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Errorf("Keys() = %v, want [b a]", keys)
	}
	if b.ID == "" {
		t.Error("NewBatch should assign an ID")
	}
	if b.Size() != 3 || b.Empty() {
		t.Errorf("Size() = %d, Empty() = %v", b.Size(), b.Empty())
	}
}

func TestBatch_HelpersOnValue(t *testing.T) {
	deliver := func(b Batch) ([]string, int, bool) { return b.Keys(), b.Size(), b.Empty() }

	keys, size, empty := deliver(*NewBatch([]Item{{Key: "lcp", Timestamp: time.Now()}}))
	if len(keys) != 1 || keys[0] != "lcp" || size != 1 || empty {
		t.Errorf("got keys=%v size=%d empty=%v", keys, size, empty)
	}
	if !(Batch{}).Empty() || (Batch{}).Size() != 0 || len(Batch{}.Keys()) != 0 {
		t.Error("zero Batch should be empty")
	}
}
