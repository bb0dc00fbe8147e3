// Package logic contains the pure input-debouncing and heartbeat logic.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State is the debounced state of a binary input.
type State string

const (
	StateOpened State = "OPENED"
	StateClosed State = "CLOSED"
)

// Input is one sample of every channel's logical level.
type Input struct {
	Levels []bool // true = OPENED (line high)
	Time   time.Time
}

// Event is a debounced transition of one channel.
type Event struct {
	Timestamp time.Time
	Channel   int
	State     State
	// Mask lists every channel's stable state after the transition,
	// with Changed set on the channels that moved in the same sample.
	Mask    []State
	Changed []bool
}

// ChannelState tracks debounce state for a single channel.
type ChannelState struct {
	// Current stable (debounced) state
	Stable State
	// Pending state during debounce
	Pending State
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Counts tracks the number of transitions per channel since startup.
type Counts struct {
	Opened []int
	Closed []int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
}
