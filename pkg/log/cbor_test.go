package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func TestEncodeEventUsesIntegerKeys(t *testing.T) {
	data, err := EncodeEvent(Event{
		Timestamp: time.Now(),
		RunID:     "run-1",
		Category:  CategoryExchange,
		Exchange:  &ExchangeEvent{Command: "ArmFailSafe", Status: "OK"},
	})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	var raw map[any]any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for k := range raw {
		if _, ok := k.(uint64); !ok {
			t.Errorf("key %v (%T) is not an integer", k, k)
		}
	}
	if _, ok := raw[uint64(14)]; !ok {
		t.Error("exchange payload not stored under key 14")
	}
}

func TestEncodeEventDeterministic(t *testing.T) {
	event := Event{
		Timestamp:  time.Date(2026, 3, 1, 0, 0, 0, 123, time.UTC),
		RunID:      "run-1",
		Category:   CategoryTransition,
		Transition: &TransitionEvent{From: "A", To: "B", Event: "C"},
	}

	a, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	b, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}

func TestDecodeEventPreservesNanoseconds(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 123456789, time.UTC)
	data, err := EncodeEvent(Event{Timestamp: ts})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, ts)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("DecodeEvent should fail on invalid CBOR")
	}
}
