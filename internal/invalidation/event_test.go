package invalidation

import (
	"encoding/json"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_HappyPath(t *testing.T) {
	ev := Event{Version: 1, Op: "update", Collection: "argoMeta", IDs: []string{"4902911_m0"}, Seq: 3, TS: mustTS()}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := Event{Version: 1, Op: "delete", Collection: "argoMeta", IDs: []string{"a"}, TS: mustTS()}
	cases := map[string]func(*Event){
		"version":    func(e *Event) { e.Version = 2 },
		"op":         func(e *Event) { e.Op = "upsert" },
		"collection": func(e *Event) { e.Collection = " " },
		"no ids":     func(e *Event) { e.IDs = nil },
		"blank id":   func(e *Event) { e.IDs = []string{"a", ""} },
		"ts":         func(e *Event) { e.TS = time.Time{} },
	}
	for name, mutate := range cases {
		ev := base
		mutate(&ev)
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	in := Event{Version: 1, Op: "insert", Collection: "tcMeta", IDs: []string{"AL012020"}, Seq: 9, TS: mustTS()}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Collection != in.Collection || out.Seq != 9 || !out.TS.Equal(in.TS) {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}
