package heos

import (
	"encoding/json"
	"testing"
)

func TestIDUnmarshalNumberAndString(t *testing.T) {
	var p Player
	if err := json.Unmarshal([]byte(`{"name":"Den","pid":-1999413304}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.PID != "-1999413304" {
		t.Errorf("numeric pid = %q, want -1999413304", p.PID)
	}

	if err := json.Unmarshal([]byte(`{"name":"Den","pid":"12345"}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.PID != "12345" {
		t.Errorf("string pid = %q, want 12345", p.PID)
	}
}

func TestIDUnmarshalNull(t *testing.T) {
	var m NowPlayingMedia
	if err := json.Unmarshal([]byte(`{"type":"song","mid":null}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.MID != "" {
		t.Errorf("null mid = %q, want empty", m.MID)
	}
}

func TestIDUnmarshalGarbage(t *testing.T) {
	var p Player
	if err := json.Unmarshal([]byte(`{"pid":[1,2]}`), &p); err == nil {
		t.Error("array pid unmarshalled without error")
	}
}
