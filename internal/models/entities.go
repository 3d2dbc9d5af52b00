package models

import "time"

// EntityKind identifies one of the synchronizable tables. The value doubles
// as the table name on both the local store and the remote backend.
type EntityKind string

const (
	KindOffice            EntityKind = "offices"
	KindLevel             EntityKind = "levels"
	KindStudent           EntityKind = "students"
	KindAttendanceRecord  EntityKind = "attendance_records"
	KindStudentAttendance EntityKind = "student_attendances"
)

// KindInfo describes the sync-relevant properties of an entity kind
type KindInfo struct {
	// SoftDelete indicates the kind is deleted by stamping deleted_at and
	// propagating the tombstone, instead of removing rows
	SoftDelete bool
	// Queued indicates the kind gets its own change queue entries.
	// Student attendances never do: they ride along with their parent record
	Queued bool
}

// KindRegistry is the whitelist of tables the engine is allowed to touch.
// Anything not listed here is rejected before any SQL is built
var KindRegistry = map[EntityKind]KindInfo{
	KindOffice:            {SoftDelete: true, Queued: true},
	KindLevel:             {SoftDelete: true, Queued: true},
	KindStudent:           {SoftDelete: true, Queued: true},
	KindAttendanceRecord:  {SoftDelete: false, Queued: true},
	KindStudentAttendance: {SoftDelete: false, Queued: false},
}

// QueueKinds lists the kinds that may appear in the change queue, in the
// order pulls are folded (parents before children so UUID references resolve)
var QueueKinds = []EntityKind{KindOffice, KindLevel, KindStudent, KindAttendanceRecord}

func (k EntityKind) Valid() bool {
	_, ok := KindRegistry[k]
	return ok
}

func (k EntityKind) SoftDeletable() bool {
	return KindRegistry[k].SoftDelete
}

// Operation is the pending mutation type recorded on a row and in the queue
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	// OpNone means the row has nothing waiting to be pushed
	OpNone Operation = ""
)

func (op Operation) Valid() bool {
	return op == OpInsert || op == OpUpdate || op == OpDelete
}

// SyncMeta carries the per-row synchronization metadata shared by every
// entity. The UUID is the only cross-store identity; RemoteID is assigned by
// the backend on first push and never changes afterwards
type SyncMeta struct {
	LocalID   int64
	UUID      string
	RemoteID  *int64
	Synced    bool
	PendingOp Operation
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CatalogItem is a named reference entity: an office (teaching center) or a
// proficiency level. Both share the same shape and sync behavior
type CatalogItem struct {
	SyncMeta
	Name      string
	DeletedAt *time.Time
}

// Student belongs to exactly one office and one level, referenced by UUID
type Student struct {
	SyncMeta
	Name       string
	BirthDate  *string
	Phone      *string
	Address    *string
	OfficeUUID string
	LevelUUID  string
	DeletedAt  *time.Time
}

// AttendanceStatus is the per-student outcome recorded on an attendance sheet
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusExcused AttendanceStatus = "excused"
)

func (s AttendanceStatus) Valid() bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusExcused
}

// AttendanceRecord is one attendance sheet for a (date, office, level)
// combination. Uniqueness of that triple is enforced by an existence check
// before insert, not by a storage constraint
type AttendanceRecord struct {
	SyncMeta
	Date       string // YYYY-MM-DD
	OfficeUUID string
	LevelUUID  string
}

// StudentAttendance is one row on an attendance sheet. Rows are always
// replaced as a full set when the sheet is saved, never patched individually
type StudentAttendance struct {
	LocalID     int64
	RecordUUID  string
	StudentUUID string
	Status      AttendanceStatus
	Synced      bool
	PendingOp   Operation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AttendanceSheet groups a record with its full status set, the unit the pull
// fold works in
type AttendanceSheet struct {
	Record   AttendanceRecord
	Statuses []StudentAttendance
}

// StudentStatus is the caller-facing input when saving an attendance sheet
type StudentStatus struct {
	StudentUUID string
	Status      AttendanceStatus
}

// Role controls the pull scope of an identity
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// Profile is the locally cached identity of a signed-in user, kept so the
// device can authenticate while offline
type Profile struct {
	RemoteID    string
	Email       string
	Role        Role
	FullName    string
	OfficeScope []int64 // remote office ids a staff profile may access
	LastLoginAt time.Time
}
