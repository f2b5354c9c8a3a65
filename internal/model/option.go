package model

// ExpressionType discriminates how a schedule's firing times are derived.
type ExpressionType string

const (
	ExpressionCron  ExpressionType = "cron"
	ExpressionDates ExpressionType = "dates"
	ExpressionSolar ExpressionType = "solar"
)

// SolarType selects between all permitted solar events and an explicit set.
type SolarType string

const (
	SolarAll      SolarType = "all"
	SolarSelected SolarType = "selected"
)

// LocationType says where a solar schedule's coordinate comes from.
type LocationType string

const (
	LocationFixed    LocationType = "fixed"
	LocationEnv      LocationType = "env"
	LocationSchedule LocationType = "schedule"
)

// PayloadType enumerates how a schedule's payload is produced when it fires.
type PayloadType string

const (
	PayloadDefault PayloadType = "default"
	PayloadFlow    PayloadType = "flow"
	PayloadGlobal  PayloadType = "global"
	PayloadString  PayloadType = "str"
	PayloadNumber  PayloadType = "num"
	PayloadBool    PayloadType = "bool"
	PayloadJSON    PayloadType = "json"
	PayloadJSONata PayloadType = "jsonata"
	PayloadBinary  PayloadType = "bin"
	PayloadDate    PayloadType = "date"
	PayloadEnv     PayloadType = "env"
	PayloadCustom  PayloadType = "custom"
	PayloadNone    PayloadType = "none"
)

// PayloadTypes is the permitted set, in the order error messages list it.
var PayloadTypes = []PayloadType{
	PayloadDefault, PayloadFlow, PayloadGlobal, PayloadString, PayloadNumber,
	PayloadBool, PayloadJSON, PayloadJSONata, PayloadBinary, PayloadDate,
	PayloadEnv, PayloadCustom,
}

// Valid reports whether p is one of the permitted payload types.
// "none" is accepted as an alias for an empty payload.
func (p PayloadType) Valid() bool {
	if p == PayloadNone {
		return true
	}
	for _, t := range PayloadTypes {
		if p == t {
			return true
		}
	}
	return false
}

// Option is a user-authored schedule configuration. Exactly one
// expression representation is populated per ExpressionType: Expression
// for cron and date sequences, Location+SolarType+SolarEvents+Offset for
// solar. Options are normalized and validated once at the expression
// boundary; after a task is created the registry and the paired-schedule
// tracker may write linkage metadata back into the Option the task holds.
type Option struct {
	Name           string         `json:"name"`
	Topic          string         `json:"topic,omitempty"`
	ExpressionType ExpressionType `json:"expressionType"`
	Expression     string         `json:"expression,omitempty"`

	Location     string       `json:"location,omitempty"`
	LocationType LocationType `json:"locationType,omitempty"`
	SolarType    SolarType    `json:"solarType,omitempty"`
	SolarEvents  string       `json:"solarEvents,omitempty"`
	Offset       int          `json:"offset,omitempty"` // minutes

	PayloadType PayloadType `json:"payloadType,omitempty"`
	Payload     any         `json:"payload,omitempty"`

	Limit            int  `json:"limit,omitempty"`
	DontStartTheTask bool `json:"dontStartTheTask,omitempty"`

	// Legacy payload type marker accepted on input ("type") and folded
	// into PayloadType during defaulting.
	LegacyType PayloadType `json:"type,omitempty"`

	// Paired-schedule linkage, written by the tracker.
	Schedule              *Schedule `json:"schedule,omitempty"`
	EndSchedule           bool      `json:"endSchedule,omitempty"`
	ScheduleName          string    `json:"scheduleName,omitempty"`
	SolarTimespanSchedule bool      `json:"solarTimespanSchedule,omitempty"`
	SolarEventStart       *bool     `json:"solarEventStart,omitempty"`

	// NoExport excludes the task from persisted snapshots; set on
	// transient auto-generated end tasks.
	NoExport bool `json:"noExport,omitempty"`
}

// Clone returns a shallow copy with its own Schedule pointer detached.
func (o *Option) Clone() *Option {
	cp := *o
	if o.Schedule != nil {
		sc := *o.Schedule
		cp.Schedule = &sc
	}
	return &cp
}
