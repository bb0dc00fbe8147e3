// Package status provides a thread-safe status tracker for the homectl daemon.
// The scheduler goroutine writes it; HTTP handlers and system events read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/homectl/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Name        string
	PollMs      int64
	DebounceMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	PoolSize    int
}

// Module is one registered hardware module.
type Module struct {
	Name      string
	Letter    string
	Channels  int
	FirstSlot int
}

// Slot is the state of one scheduling slot. This is a local copy to avoid
// importing the scheduler packages from status.
type Slot struct {
	Slot    int
	Module  string
	Channel int
	Active  bool
	Timer   int
}

// Counters tracks command handling since startup.
type Counters struct {
	Received int
	Executed int
	Rejected int
	Failed   int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Session       string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Inputs        []logic.State
	InputsReady   bool
	Modules       []Module
	Slots         []Slot
	TimersFree    int
	Counters      Counters
	LastCommand   string
	LastError     string
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// ActiveSlots returns the number of active slots.
func (s Snapshot) ActiveSlots() int {
	n := 0
	for _, sl := range s.Slots {
		if sl.Active {
			n++
		}
	}
	return n
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time, boot session id and config.
func NewTracker(startTime time.Time, session string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Session:   session,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetInputs sets the debounced binary input states.
func (t *Tracker) SetInputs(states []logic.State, ready bool) {
	cp := make([]logic.State, len(states))
	copy(cp, states)
	t.mu.Lock()
	t.snap.Inputs = cp
	t.snap.InputsReady = ready
	t.mu.Unlock()
}

// SetModules sets the registered modules.
func (t *Tracker) SetModules(mods []Module) {
	cp := make([]Module, len(mods))
	copy(cp, mods)
	t.mu.Lock()
	t.snap.Modules = cp
	t.mu.Unlock()
}

// SetScheduler sets the slot table and the number of free timers.
// Called from runLoop on every tick.
func (t *Tracker) SetScheduler(slots []Slot, timersFree int) {
	cp := make([]Slot, len(slots))
	copy(cp, slots)
	t.mu.Lock()
	t.snap.Slots = cp
	t.snap.TimersFree = timersFree
	t.mu.Unlock()
}

// RecordCommand counts one received command and its outcome. rejected marks
// a command that failed to decode; err is nil on success.
func (t *Tracker) RecordCommand(payload string, rejected bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Counters.Received++
	t.snap.LastCommand = payload
	switch {
	case err == nil:
		t.snap.Counters.Executed++
	case rejected:
		t.snap.Counters.Rejected++
		t.snap.LastError = err.Error()
	default:
		t.snap.Counters.Failed++
		t.snap.LastError = err.Error()
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
