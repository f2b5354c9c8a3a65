package dispatch

import (
	"strings"

	"github.com/t77yq/solar-scheduler/internal/registry"
)

// Scope selects which tasks a command applies to. The zero scope
// targets a single named schedule.
type Scope string

const (
	ScopeSingle          Scope = ""
	ScopeAll             Scope = "all"
	ScopeAllDynamic      Scope = "all-dynamic"
	ScopeAllStatic       Scope = "all-static"
	ScopeActive          Scope = "active"
	ScopeActiveDynamic   Scope = "active-dynamic"
	ScopeActiveStatic    Scope = "active-static"
	ScopeInactive        Scope = "inactive"
	ScopeInactiveDynamic Scope = "inactive-dynamic"
	ScopeInactiveStatic  Scope = "inactive-static"
)

// Filter maps the scope onto a registry filter.
func (s Scope) Filter() registry.Filter {
	switch s {
	case ScopeAll:
		return registry.FilterAll
	case ScopeAllDynamic:
		return registry.FilterDynamic
	case ScopeAllStatic:
		return registry.FilterStatic
	case ScopeActive:
		return registry.FilterActive
	case ScopeActiveDynamic:
		return registry.FilterActiveDynamic
	case ScopeActiveStatic:
		return registry.FilterActiveStatic
	case ScopeInactive:
		return registry.FilterInactive
	case ScopeInactiveDynamic:
		return registry.FilterInactiveDynamic
	case ScopeInactiveStatic:
		return registry.FilterInactiveStatic
	default:
		return registry.FilterAll
	}
}

// Action is a parsed command: one verb plus one scope.
type Action struct {
	Command string
	Scope   Scope
}

// scopeSuffixes is checked longest-first so "-all-dynamic" is not
// misread as "-all" on a verb ending in "-dynamic".
var scopeSuffixes = []Scope{
	ScopeAllDynamic, ScopeAllStatic,
	ScopeActiveDynamic, ScopeActiveStatic,
	ScopeInactiveDynamic, ScopeInactiveStatic,
	ScopeAll, ScopeActive, ScopeInactive,
}

// verbScopes enumerates which scopes each verb permits. Verbs absent
// from the map are singular-only.
var verbScopes = map[string][]Scope{
	"trigger": extendedScopes,
	"status":  extendedScopes,
	"export":  extendedScopes,
	"list":    extendedScopes,
	"remove":  extendedScopes,
	"delete":  extendedScopes,
	"debug":   extendedScopes,
	"start":   allScopes,
	"stop":    allScopes,
	"pause":   allScopes,
}

var allScopes = []Scope{ScopeAll, ScopeAllDynamic, ScopeAllStatic}

var extendedScopes = []Scope{
	ScopeAll, ScopeAllDynamic, ScopeAllStatic,
	ScopeActive, ScopeActiveDynamic, ScopeActiveStatic,
	ScopeInactive, ScopeInactiveDynamic, ScopeInactiveStatic,
}

// singularVerbs are the verbs accepted without a scope suffix.
var singularVerbs = map[string]bool{
	"trigger": true, "describe": true, "status": true, "list": true,
	"export": true, "add": true, "update": true, "clear": true,
	"remove": true, "delete": true, "start": true, "stop": true,
	"pause": true, "next": true, "debug": true,
}

// ParseAction splits a raw command string into verb and scope. It
// returns false for anything outside the vocabulary.
func ParseAction(raw string) (Action, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Action{}, false
	}
	for _, suffix := range scopeSuffixes {
		tail := "-" + string(suffix)
		if !strings.HasSuffix(raw, tail) {
			continue
		}
		verb := strings.TrimSuffix(raw, tail)
		for _, allowed := range verbScopes[verb] {
			if allowed == suffix {
				return Action{Command: verb, Scope: suffix}, true
			}
		}
		return Action{}, false
	}
	if singularVerbs[raw] {
		return Action{Command: raw}, true
	}
	return Action{}, false
}

// nameless verbs never reference a schedule by name even in singular
// form.
var namelessVerbs = map[string]bool{
	"clear": true, "next": true, "add": true, "update": true, "describe": true,
}

// ParseControlTopic interprets the control-topic message form, where
// the topic is the command and the payload carries the schedule name.
// payloadIsName reports whether the payload should be read as a name.
func ParseControlTopic(topic string) (a Action, payloadIsName bool, ok bool) {
	a, ok = ParseAction(topic)
	if !ok {
		return Action{}, false, false
	}
	payloadIsName = a.Scope == ScopeSingle && !namelessVerbs[a.Command]
	return a, payloadIsName, true
}
