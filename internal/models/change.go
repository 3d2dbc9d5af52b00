package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeEntry is one pending mutation in the change queue. The queue is the
// single durable record of "this row needs to be pushed": an entry is removed
// only after the remote operation is confirmed or judged unnecessary.
// Insertion order (the autoincrement ID) is the replay order
type ChangeEntry struct {
	ID         int64
	Kind       EntityKind
	EntityUUID string
	Operation  Operation
	Payload    json.RawMessage // optional snapshot taken at enqueue time
	CreatedAt  time.Time
}

// Snapshot is the typed payload attached to a queue entry. Each queued kind
// has its own concrete type so push logic is checked at compile time instead
// of poking at loose JSON
type Snapshot interface {
	isSnapshot()
}

// CatalogSnapshot captures an office or level at enqueue time
type CatalogSnapshot struct {
	UUID      string     `json:"uuid"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// StudentSnapshot captures a student at enqueue time
type StudentSnapshot struct {
	UUID       string     `json:"uuid"`
	Name       string     `json:"name"`
	BirthDate  *string    `json:"birth_date,omitempty"`
	Phone      *string    `json:"phone,omitempty"`
	Address    *string    `json:"address,omitempty"`
	OfficeUUID string     `json:"office_uuid"`
	LevelUUID  string     `json:"level_uuid"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// AttendanceSnapshot captures an attendance record header at enqueue time.
// Student rows are not snapshotted: the push always re-reads the current set
type AttendanceSnapshot struct {
	UUID       string    `json:"uuid"`
	Date       string    `json:"date"`
	OfficeUUID string    `json:"office_uuid"`
	LevelUUID  string    `json:"level_uuid"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (CatalogSnapshot) isSnapshot()    {}
func (StudentSnapshot) isSnapshot()    {}
func (AttendanceSnapshot) isSnapshot() {}

// EncodeSnapshot serializes a typed snapshot for queue storage
func EncodeSnapshot(s Snapshot) (json.RawMessage, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode change snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot deserializes the entry payload into the concrete type for
// its entity kind. Returns nil when no snapshot was attached
func (c ChangeEntry) DecodeSnapshot() (Snapshot, error) {
	if len(c.Payload) == 0 {
		return nil, nil
	}
	switch c.Kind {
	case KindOffice, KindLevel:
		var s CatalogSnapshot
		if err := json.Unmarshal(c.Payload, &s); err != nil {
			return nil, fmt.Errorf("bad catalog snapshot: %w", err)
		}
		return s, nil
	case KindStudent:
		var s StudentSnapshot
		if err := json.Unmarshal(c.Payload, &s); err != nil {
			return nil, fmt.Errorf("bad student snapshot: %w", err)
		}
		return s, nil
	case KindAttendanceRecord:
		var s AttendanceSnapshot
		if err := json.Unmarshal(c.Payload, &s); err != nil {
			return nil, fmt.Errorf("bad attendance snapshot: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("entity kind %q carries no snapshot", c.Kind)
	}
}

// SyncEvent is the per-cycle summary optionally published to the ops broker
// so a fleet of offline devices can be monitored centrally
type SyncEvent struct {
	DeviceID   string    `json:"device_id"`
	Status     string    `json:"status"` // completed | error
	Pending    int       `json:"pending"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
