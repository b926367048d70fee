package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ozandndar/reddis-bullmq/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"SubscriptionID", id.NewSubscriptionID, "sub_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
			if len(got) != len(tt.prefix)+32 {
				t.Errorf("unexpected length %d for %q", len(got), got)
			}
		})
	}
}

func TestUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 1000 {
		s := id.NewWorkerID().String()
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate id %q", s)
		}
		seen[s] = struct{}{}
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := id.NewWorkerID()
	parsed, err := id.ParseWorkerID(orig.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("got %q, want %q", parsed.String(), orig.String())
	}
	if parsed.Prefix() != id.PrefixWorker {
		t.Errorf("prefix = %q", parsed.Prefix())
	}
}

func TestParseErrors(t *testing.T) {
	sub := id.NewSubscriptionID().String()
	cases := map[string]string{
		"empty":        "",
		"no separator": "wkr01927f0c9b4c7d1e8a2f3b4c5d6e7f80",
		"bad prefix":   "WKR_01927f0c9b4c7d1e8a2f3b4c5d6e7f80",
		"short suffix": "wkr_0192",
		"bad hex":      "wkr_zz927f0c9b4c7d1e8a2f3b4c5d6e7f80",
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := id.Parse(s); err == nil {
				t.Errorf("expected error for %q", s)
			}
		})
	}

	if _, err := id.ParseWorkerID(sub); err == nil {
		t.Error("expected prefix mismatch error")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero value should be nil")
	}
	if i.String() != "" {
		t.Errorf("nil String() = %q, want empty", i.String())
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		Worker id.ID `json:"worker"`
	}
	in := wrapper{Worker: id.NewWorkerID()}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Worker.String() != in.Worker.String() {
		t.Errorf("got %q, want %q", out.Worker, in.Worker)
	}
}

func TestNew_InvalidPrefixPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	_ = id.New("Bad-Prefix")
}
