package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Name          string       `json:"name"`
	Session       string       `json:"session"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Inputs        InputsJSON   `json:"inputs"`
	Modules       []ModuleJSON `json:"modules"`
	Slots         []SlotJSON   `json:"slots,omitempty"`
	Timers        TimersJSON   `json:"timers"`
	Commands      CommandsJSON `json:"commands"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// InputsJSON is the JSON representation of the binary inputs.
type InputsJSON struct {
	Ready  bool     `json:"ready"`
	States []string `json:"states"`
}

// ModuleJSON is the JSON representation of a registered module.
type ModuleJSON struct {
	Name      string `json:"name"`
	Letter    string `json:"letter"`
	Channels  int    `json:"channels"`
	FirstSlot int    `json:"first_slot"`
}

// SlotJSON is the JSON representation of an active slot.
type SlotJSON struct {
	Slot    int    `json:"slot"`
	Module  string `json:"module"`
	Channel int    `json:"channel"`
	Timer   int    `json:"timer"`
}

// TimersJSON reports timer pool usage.
type TimersJSON struct {
	Pool int `json:"pool"`
	Free int `json:"free"`
}

// CommandsJSON is the JSON representation of the command counters.
type CommandsJSON struct {
	Received  int    `json:"received"`
	Executed  int    `json:"executed"`
	Rejected  int    `json:"rejected"`
	Failed    int    `json:"failed"`
	Last      string `json:"last,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	states := make([]string, len(snap.Inputs))
	for i, s := range snap.Inputs {
		states[i] = string(s)
		if states[i] == "" {
			states[i] = "UNKNOWN"
		}
	}

	modules := make([]ModuleJSON, 0, len(snap.Modules))
	for _, m := range snap.Modules {
		modules = append(modules, ModuleJSON{
			Name:      m.Name,
			Letter:    m.Letter,
			Channels:  m.Channels,
			FirstSlot: m.FirstSlot,
		})
	}

	var slots []SlotJSON
	for _, s := range snap.Slots {
		if !s.Active {
			continue
		}
		slots = append(slots, SlotJSON{Slot: s.Slot, Module: s.Module, Channel: s.Channel, Timer: s.Timer})
	}

	return StatusInner{
		Name:          snap.Config.Name,
		Session:       snap.Session,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Inputs:        InputsJSON{Ready: snap.InputsReady, States: states},
		Modules:       modules,
		Slots:         slots,
		Timers:        TimersJSON{Pool: snap.Config.PoolSize, Free: snap.TimersFree},
		Commands: CommandsJSON{
			Received:  snap.Counters.Received,
			Executed:  snap.Counters.Executed,
			Rejected:  snap.Counters.Rejected,
			Failed:    snap.Counters.Failed,
			Last:      snap.LastCommand,
			LastError: snap.LastError,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
}

// SchedulerJSON is the scheduler view served on its own: the timer pool and
// the active slots.
type SchedulerJSON struct {
	Timers TimersJSON `json:"timers"`
	Slots  []SlotJSON `json:"slots"`
}

// FormatSchedulerJSON returns the JSON scheduler view. Slots is an empty list,
// not null, when nothing runs.
func FormatSchedulerJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	out := SchedulerJSON{Timers: inner.Timers, Slots: inner.Slots}
	if out.Slots == nil {
		out.Slots = []SlotJSON{}
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return data
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
