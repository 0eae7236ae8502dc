// Package events defines event types and enumerations for the rconbridge event system.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Process lifecycle events
	EventStateChanged EventType = "state_changed"
	EventSaveLoaded   EventType = "save_loaded"
	EventSaveUploaded EventType = "save_uploaded"

	// RCON events
	EventCommandExecuted EventType = "command_executed"

	// System events
	EventShutdown  EventType = "shutdown"
	EventHeartbeat EventType = "heartbeat"
	EventDiskAlert EventType = "disk_alert"
)

// ProcessState is the lifecycle state of the external game server process
// as seen by the orchestrator.
type ProcessState int

const (
	StateStopped ProcessState = iota
	StateStopping
	StateStarting
	StateReady
	StateRunning
)

var processStateStrings = map[ProcessState]string{
	StateStopped:  "STOPPED",
	StateStopping: "STOPPING",
	StateStarting: "STARTING",
	StateReady:    "READY",
	StateRunning:  "RUNNING",
}

// String returns the string representation of ProcessState.
func (s ProcessState) String() string {
	if str, ok := processStateStrings[s]; ok {
		return str
	}
	return "UNKNOWN"
}

// MarshalJSON serializes ProcessState as a JSON string (e.g. "RUNNING").
func (s ProcessState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// StateChangedPayload is emitted on every orchestrator state transition.
// OperationID is empty for transitions outside a save swap (startup sync).
type StateChangedPayload struct {
	OperationID string       `json:"operation_id,omitempty"`
	From        ProcessState `json:"from"`
	To          ProcessState `json:"to"`
	Save        string       `json:"save,omitempty"`
	At          time.Time    `json:"at"`
}

// CommandExecutedPayload describes one finished RCON command.
type CommandExecutedPayload struct {
	Command  string        `json:"command"`
	Status   string        `json:"status"`
	Kind     string        `json:"kind,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SaveLoadedPayload is emitted when a save swap finishes, successfully or not.
type SaveLoadedPayload struct {
	OperationID string        `json:"operation_id"`
	Save        string        `json:"save"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// SaveUploadedPayload is emitted after an uploaded save is persisted.
type SaveUploadedPayload struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	AutoLoad  bool   `json:"auto_load"`
}

// HeartbeatPayload is the periodic status summary.
type HeartbeatPayload struct {
	State     ProcessState `json:"state"`
	Save      string       `json:"save,omitempty"`
	Connected bool         `json:"connected"`
	SaveCount int          `json:"save_count"`
	Uptime    int64        `json:"uptime_sec"`
}

// DiskAlertPayload reports the save volume crossing a usage threshold.
type DiskAlertPayload struct {
	Level       string  `json:"level"`
	Message     string  `json:"message"`
	UsedPercent float64 `json:"used_percent"`
}
