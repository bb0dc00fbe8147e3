package logic

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func setupBaselined(t *testing.T, levels ...bool) *Debouncer {
	t.Helper()
	d := NewDebouncer(len(levels), 250*time.Millisecond)
	d.Process(Input{Levels: levels, Time: t0})
	d.Process(Input{Levels: levels, Time: t0.Add(250 * time.Millisecond)})
	if !d.IsBaselined() {
		t.Fatal("setup: debouncer not baselined")
	}
	return d
}

func TestNewDebouncer(t *testing.T) {
	d := NewDebouncer(3, 250*time.Millisecond)
	if d == nil {
		t.Fatal("NewDebouncer returned nil")
	}
	if len(d.channels) != 3 {
		t.Errorf("expected 3 channels, got %d", len(d.channels))
	}
	if d.baselined {
		t.Error("new debouncer should not be baselined")
	}
}

func TestBaselineEstablishment(t *testing.T) {
	d := NewDebouncer(2, 250*time.Millisecond)

	// First sample - starts observation
	if events := d.Process(Input{Levels: []bool{true, false}, Time: t0}); len(events) != 0 {
		t.Errorf("expected no events during baseline, got %d", len(events))
	}

	// Before debounce period
	d.Process(Input{Levels: []bool{true, false}, Time: t0.Add(200 * time.Millisecond)})
	if d.IsBaselined() {
		t.Error("should not be baselined before debounce period")
	}

	// After debounce period - baseline established without events
	if events := d.Process(Input{Levels: []bool{true, false}, Time: t0.Add(250 * time.Millisecond)}); len(events) != 0 {
		t.Errorf("expected no events at baseline establishment, got %d", len(events))
	}
	if !d.IsBaselined() {
		t.Error("should be baselined after debounce period")
	}

	cur := d.Current()
	if cur[0] != StateOpened || cur[1] != StateClosed {
		t.Errorf("unexpected baseline %v", cur)
	}
}

func TestBaselineResetOnChange(t *testing.T) {
	d := NewDebouncer(1, 250*time.Millisecond)

	d.Process(Input{Levels: []bool{true}, Time: t0})
	d.Process(Input{Levels: []bool{false}, Time: t0.Add(100 * time.Millisecond)})
	d.Process(Input{Levels: []bool{false}, Time: t0.Add(250 * time.Millisecond)})
	if d.IsBaselined() {
		t.Error("should not be baselined: state changed during observation")
	}

	d.Process(Input{Levels: []bool{false}, Time: t0.Add(350 * time.Millisecond)})
	if !d.IsBaselined() {
		t.Error("should be baselined after debounce from state change")
	}
	if d.Current()[0] != StateClosed {
		t.Errorf("expected CLOSED, got %s", d.Current()[0])
	}
}

func TestSingleTransition(t *testing.T) {
	d := setupBaselined(t, false, false, false)
	now := t0.Add(time.Minute)

	if events := d.Process(Input{Levels: []bool{false, true, false}, Time: now}); len(events) != 0 {
		t.Errorf("expected no events before debounce, got %d", len(events))
	}

	events := d.Process(Input{Levels: []bool{false, true, false}, Time: now.Add(250 * time.Millisecond)})
	if len(events) != 1 {
		t.Fatalf("expected 1 event after debounce, got %d", len(events))
	}

	e := events[0]
	if e.Channel != 1 || e.State != StateOpened {
		t.Errorf("expected channel 1 OPENED, got %d %s", e.Channel, e.State)
	}
	if !e.Timestamp.Equal(now.Add(250 * time.Millisecond)) {
		t.Errorf("unexpected timestamp: %v", e.Timestamp)
	}
	if e.Mask[1] != StateOpened || e.Mask[0] != StateClosed {
		t.Errorf("unexpected mask %v", e.Mask)
	}
	if !e.Changed[1] || e.Changed[0] || e.Changed[2] {
		t.Errorf("unexpected changed flags %v", e.Changed)
	}

	c := d.Counts()
	if c.Opened[1] != 1 || c.Closed[1] != 0 {
		t.Errorf("unexpected counts %+v", c)
	}
}

func TestSimultaneousTransitionsInChannelOrder(t *testing.T) {
	d := setupBaselined(t, true, false, true)
	now := t0.Add(time.Minute)

	d.Process(Input{Levels: []bool{false, false, false}, Time: now})
	events := d.Process(Input{Levels: []bool{false, false, false}, Time: now.Add(300 * time.Millisecond)})
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Channel != 0 || events[1].Channel != 2 {
		t.Errorf("expected channels 0 then 2, got %d then %d", events[0].Channel, events[1].Channel)
	}
	for _, e := range events {
		if e.State != StateClosed {
			t.Errorf("channel %d: expected CLOSED, got %s", e.Channel, e.State)
		}
	}
}

func TestBounceShorterThanDebounce(t *testing.T) {
	d := setupBaselined(t, true)
	now := t0.Add(time.Minute)

	d.Process(Input{Levels: []bool{false}, Time: now})
	d.Process(Input{Levels: []bool{true}, Time: now.Add(100 * time.Millisecond)})
	events := d.Process(Input{Levels: []bool{true}, Time: now.Add(400 * time.Millisecond)})
	if len(events) != 0 {
		t.Errorf("expected bounce to be ignored, got %d events", len(events))
	}
	if d.Current()[0] != StateOpened {
		t.Errorf("expected OPENED, got %s", d.Current()[0])
	}
}

func TestRebaselineSuppressesEvents(t *testing.T) {
	d := setupBaselined(t, false)
	d.Rebaseline()
	if d.IsBaselined() {
		t.Fatal("expected baseline to be cleared")
	}

	now := t0.Add(time.Minute)
	d.Process(Input{Levels: []bool{true}, Time: now})
	events := d.Process(Input{Levels: []bool{true}, Time: now.Add(time.Second)})
	if len(events) != 0 {
		t.Errorf("expected no events while re-baselining, got %d", len(events))
	}
	if d.Current()[0] != StateOpened {
		t.Errorf("expected new baseline OPENED, got %s", d.Current()[0])
	}
}

func TestShortSampleCountsAsClosed(t *testing.T) {
	d := setupBaselined(t, true, true)
	now := t0.Add(time.Minute)

	d.Process(Input{Levels: []bool{true}, Time: now})
	events := d.Process(Input{Levels: []bool{true}, Time: now.Add(time.Second)})
	if len(events) != 1 || events[0].Channel != 1 || events[0].State != StateClosed {
		t.Errorf("expected channel 1 CLOSED, got %+v", events)
	}
}

func TestHeartbeat(t *testing.T) {
	h := NewHeartbeat(t0)

	if hb := h.Check(t0.Add(30*time.Second), time.Minute); hb != nil {
		t.Error("heartbeat before interval")
	}

	hb := h.Check(t0.Add(time.Minute), time.Minute)
	if hb == nil {
		t.Fatal("expected heartbeat")
	}
	if hb.Uptime != time.Minute {
		t.Errorf("expected uptime 1m, got %v", hb.Uptime)
	}

	if hb := h.Check(t0.Add(90*time.Second), time.Minute); hb != nil {
		t.Error("heartbeat must wait a full interval from the last one")
	}
	if hb := h.Check(t0.Add(3*time.Minute), 0); hb != nil {
		t.Error("zero interval disables heartbeats")
	}
}
