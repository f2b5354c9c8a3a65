package registry

// Filter selects a subset of tasks for bulk operations. Active means
// currently running, static means defined in configuration, dynamic
// means added at runtime.
type Filter string

const (
	FilterAll             Filter = "all"
	FilterStatic          Filter = "static"
	FilterDynamic         Filter = "dynamic"
	FilterActive          Filter = "active"
	FilterInactive        Filter = "inactive"
	FilterActiveStatic    Filter = "active-static"
	FilterActiveDynamic   Filter = "active-dynamic"
	FilterInactiveStatic  Filter = "inactive-static"
	FilterInactiveDynamic Filter = "inactive-dynamic"
)

// Filters is every recognized filter.
var Filters = []Filter{
	FilterAll, FilterStatic, FilterDynamic,
	FilterActive, FilterInactive,
	FilterActiveStatic, FilterActiveDynamic,
	FilterInactiveStatic, FilterInactiveDynamic,
}

// Valid reports whether f is a recognized filter.
func (f Filter) Valid() bool {
	for _, known := range Filters {
		if f == known {
			return true
		}
	}
	return false
}

// Match reports whether the task falls inside the filter. The zero
// filter matches everything.
func (f Filter) Match(t *Task) bool {
	switch f {
	case "", FilterAll:
		return true
	case FilterStatic:
		return t.IsStatic()
	case FilterDynamic:
		return t.IsDynamic
	case FilterActive:
		return t.IsRunning()
	case FilterInactive:
		return !t.IsRunning()
	case FilterActiveStatic:
		return t.IsRunning() && t.IsStatic()
	case FilterActiveDynamic:
		return t.IsRunning() && t.IsDynamic
	case FilterInactiveStatic:
		return !t.IsRunning() && t.IsStatic()
	case FilterInactiveDynamic:
		return !t.IsRunning() && t.IsDynamic
	default:
		return false
	}
}
