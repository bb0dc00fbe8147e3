package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewTopics(t *testing.T) {
	topics := NewTopics("ard/", "garden")

	tests := []struct {
		got, want string
	}{
		{topics.Commands, "ard/garden/control/commands"},
		{topics.Debug, "ard/garden/debug"},
		{topics.System, "ard/garden/system"},
		{topics.Presence, "devices/state/presence/garden"},
		{topics.BinInChannel(3), "ard/garden/sensors/bin_in/3"},
		{topics.BinInState(), "ard/garden/sensors/bin_in/state"},
		{topics.TempProbe(0), "ard/garden/sensors/T/values/0"},
		{topics.TempAddress(1), "ard/garden/sensors/T/addr/1"},
		{topics.AnalogChannel(2), "ard/garden/sensors/A/2"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestFakeClientPublish(t *testing.T) {
	f := NewFakeClient()

	buf := []byte("B0051S6")
	if err := f.Publish("a/debug", buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buf[0] = 'X'

	if len(f.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(f.Messages))
	}
	if string(f.Messages[0].Payload) != "B0051S6" {
		t.Errorf("payload must be copied, got %q", f.Messages[0].Payload)
	}
	if got := f.On("a/debug"); len(got) != 1 || got[0] != "B0051S6" {
		t.Errorf("On: got %v", got)
	}
	if got := f.On("other"); got != nil {
		t.Errorf("On(other): got %v", got)
	}
}

func TestFakeClientPublishError(t *testing.T) {
	f := NewFakeClient()
	f.PublishError = errors.New("broker down")

	if err := f.Publish("t", []byte("x")); err == nil {
		t.Error("expected error")
	}
	if len(f.Messages) != 0 {
		t.Errorf("expected no messages recorded on error, got %d", len(f.Messages))
	}
}

func TestFakeClientDeliver(t *testing.T) {
	f := NewFakeClient()

	var gotTopic, gotPayload string
	if err := f.Subscribe("cmds", func(topic string, payload []byte) {
		gotTopic, gotPayload = topic, string(payload)
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !f.Deliver("cmds", []byte("I000")) {
		t.Fatal("expected handler for cmds")
	}
	if gotTopic != "cmds" || gotPayload != "I000" {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}
	if f.Deliver("nobody", nil) {
		t.Error("expected no handler for unsubscribed topic")
	}
}

func TestFakeClientReset(t *testing.T) {
	f := NewFakeClient()
	_ = f.Publish("t", []byte("x"))
	_ = f.PublishSystem(SystemEvent{Event: "STARTUP", Timestamp: time.Now()})
	_ = f.Close()
	f.Connected = true

	f.Reset()
	if f.Messages != nil || f.SystemEvents != nil || f.SystemPayloads != nil {
		t.Error("expected recorded messages to be cleared")
	}
	if f.Closed || f.Connected {
		t.Error("expected flags to be cleared")
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
		Session:   "3f1c",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"system":{"timestamp":"2026-02-02T22:18:12Z","event":"SHUTDOWN","reason":"SIGTERM","session":"3f1c"}}`
	if string(payload) != want {
		t.Errorf("got %s\nwant %s", payload, want)
	}
}

func TestFormatSystemPayloadOmitsEmpty(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     "STARTUP",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := parsed["system"]["reason"]; ok {
		t.Error("reason should be omitted")
	}
	if _, ok := parsed["system"]["session"]; ok {
		t.Error("session should be omitted")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("expected raw payload, got %s", payload)
	}
}
