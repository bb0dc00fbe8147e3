package logic

import "time"

// Debouncer tracks a bank of binary inputs and reports debounced transitions.
type Debouncer struct {
	debounceDuration time.Duration
	channels         []ChannelState
	baselined        bool
	counts           Counts
}

// NewDebouncer creates a debouncer for n channels.
func NewDebouncer(n int, debounceDuration time.Duration) *Debouncer {
	return &Debouncer{
		debounceDuration: debounceDuration,
		channels:         make([]ChannelState, n),
		counts: Counts{
			Opened: make([]int, n),
			Closed: make([]int, n),
		},
	}
}

// Process takes a new input sample and returns the resulting transitions in
// channel order. Nothing is reported until every channel has a baseline.
// Levels beyond the bank size are ignored; missing levels count as closed.
func (d *Debouncer) Process(input Input) []Event {
	changed := make([]bool, len(d.channels))
	moved := false
	for i := range d.channels {
		level := i < len(input.Levels) && input.Levels[i]
		if d.processChannel(&d.channels[i], levelToState(level), input.Time) {
			changed[i] = true
			moved = true
		}
	}

	if !d.baselined {
		for i := range d.channels {
			if !d.channels[i].Baselined {
				return nil
			}
		}
		d.baselined = true
		return nil // No events at baseline establishment
	}
	if !moved {
		return nil
	}

	mask := d.Current()
	var events []Event
	for i, c := range changed {
		if !c {
			continue
		}
		st := d.channels[i].Stable
		if st == StateOpened {
			d.counts.Opened[i]++
		} else {
			d.counts.Closed[i]++
		}
		events = append(events, Event{
			Timestamp: input.Time,
			Channel:   i,
			State:     st,
			Mask:      mask,
			Changed:   changed,
		})
	}
	return events
}

// processChannel handles debounce logic for a single channel.
// Returns true if a transition occurred.
func (d *Debouncer) processChannel(ch *ChannelState, newState State, now time.Time) bool {
	// First time seeing this channel
	if !ch.Baselined {
		if ch.Pending != newState {
			// Start observing, or state changed during baseline
			ch.Pending = newState
			ch.PendingSince = now
			return false
		}

		if now.Sub(ch.PendingSince) >= d.debounceDuration {
			ch.Stable = newState
			ch.Baselined = true
			ch.Pending = ""
		}
		return false
	}

	if newState == ch.Stable {
		ch.Pending = ""
		return false
	}

	if ch.Pending != newState {
		ch.Pending = newState
		ch.PendingSince = now
		return false
	}

	if now.Sub(ch.PendingSince) >= d.debounceDuration {
		ch.Stable = newState
		ch.Pending = ""
		return true
	}
	return false
}

func levelToState(b bool) State {
	if b {
		return StateOpened
	}
	return StateClosed
}

// Rebaseline forgets every stable state. No events are reported until a new
// baseline has been observed.
func (d *Debouncer) Rebaseline() {
	for i := range d.channels {
		d.channels[i] = ChannelState{}
	}
	d.baselined = false
}

// IsBaselined returns whether the debouncer has established a baseline.
func (d *Debouncer) IsBaselined() bool {
	return d.baselined
}

// Current returns the stable state of every channel.
func (d *Debouncer) Current() []State {
	out := make([]State, len(d.channels))
	for i := range d.channels {
		out[i] = d.channels[i].Stable
	}
	return out
}

// Counts returns a copy of the transition counters.
func (d *Debouncer) Counts() Counts {
	c := Counts{
		Opened: make([]int, len(d.counts.Opened)),
		Closed: make([]int, len(d.counts.Closed)),
	}
	copy(c.Opened, d.counts.Opened)
	copy(c.Closed, d.counts.Closed)
	return c
}

// Heartbeat decides when a periodic heartbeat is due.
type Heartbeat struct {
	startTime     time.Time
	lastHeartbeat time.Time
}

// NewHeartbeat starts counting uptime at startTime.
func NewHeartbeat(startTime time.Time) *Heartbeat {
	return &Heartbeat{startTime: startTime, lastHeartbeat: startTime}
}

// Check returns heartbeat data if the interval has elapsed since the last
// heartbeat (or startup). Returns nil if the interval has not elapsed, or if
// interval is <= 0 (disabled).
func (h *Heartbeat) Check(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(h.lastHeartbeat) < interval {
		return nil
	}

	h.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(h.startTime),
	}
}
