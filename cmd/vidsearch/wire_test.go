package main

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/ingest"
)

func TestRequestRef(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		ok      bool
	}{
		{"bare_ref", "gs://media/raw/talk.mp4\n", "gs://media/raw/talk.mp4", true},
		{"json_object", `{"video":"s3://media/raw/demo.mov"}`, "s3://media/raw/demo.mov", true},
		{"json_missing_field", `{"ref":"gs://media/raw/talk.mp4"}`, "", false},
		{"bad_json", `{"video":`, "", false},
		{"local_path", "/tmp/talk.mp4", "", false},
		{"bucket_only", "gs://media", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := requestRef([]byte(tt.payload))
			if ok != tt.ok || got != tt.want {
				t.Errorf("requestRef(%q) = %q, %v; want %q, %v", tt.payload, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestForwardEvents(t *testing.T) {
	bus := ingest.NewEventBus(8)
	ch, cancel := bus.Subscribe(ingest.EventFilter{})
	defer cancel()

	handle := forwardEvents(bus, zerolog.Nop())
	handle("vidsearch/ingest/succeeded", []byte("not json"))

	payload, _ := json.Marshal(ingest.Event{ID: "remote-1", Status: "succeeded", Video: "gs://media/raw/a.mp4"})
	handle("vidsearch/ingest/succeeded", payload)

	select {
	case e := <-ch:
		if e.Video != "gs://media/raw/a.mp4" {
			t.Errorf("Video = %q", e.Video)
		}
		if e.ID == "remote-1" || e.ID == "" {
			t.Errorf("ID = %q, want a locally assigned id", e.ID)
		}
	default:
		t.Fatal("event was not forwarded")
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected extra event %+v", e)
	default:
	}
}
