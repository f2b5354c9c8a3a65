package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/expr"
	"github.com/t77yq/solar-scheduler/internal/model"
	"github.com/t77yq/solar-scheduler/internal/monitor"
	"github.com/t77yq/solar-scheduler/internal/registry"
	"github.com/t77yq/solar-scheduler/internal/tracker"
)

// Response is the reply to one command.
type Response struct {
	Command string `json:"command"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func errorResponse(command string, err error) *Response {
	return &Response{Command: command, Error: err.Error()}
}

// namedResult pairs a schedule name with its per-task result in bulk
// responses.
type namedResult struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// Dispatcher interprets control commands against the registry.
type Dispatcher struct {
	logger  *zap.Logger
	env     *registry.Environment
	reg     *registry.Registry
	tracker *tracker.Tracker
}

// New builds a dispatcher.
func New(env *registry.Environment, reg *registry.Registry, tr *tracker.Tracker) *Dispatcher {
	return &Dispatcher{
		logger:  env.NamedLogger("dispatch"),
		env:     env,
		reg:     reg,
		tracker: tr,
	}
}

// Execute runs one command and produces its response. Unknown
// schedules and malformed commands are reported in the response, never
// as a panic or process exit.
func (d *Dispatcher) Execute(ctx context.Context, req *model.CommandRequest) *Response {
	action, ok := ParseAction(req.Command)
	if !ok {
		return &Response{
			Command: req.Command,
			Error:   fmt.Sprintf("unknown command '%s'", req.Command),
		}
	}
	d.logger.Debug("command received",
		zap.String("command", action.Command),
		zap.String("scope", string(action.Scope)),
		zap.String("schedule", req.Name))

	switch action.Command {
	case "trigger":
		return d.trigger(action, req)
	case "describe":
		return d.describe(req)
	case "status":
		return d.status(action, req)
	case "list":
		return d.list(action, req)
	case "export":
		return d.export(action, req)
	case "add", "update":
		return d.update(req)
	case "clear":
		return d.clear(req)
	case "remove", "delete":
		return d.remove(action, req)
	case "start":
		return d.start(action, req)
	case "stop":
		return d.stopOrPause(action, req, true)
	case "pause":
		return d.stopOrPause(action, req, false)
	case "next":
		return d.next(req)
	case "debug":
		return d.debug(ctx, action, req)
	}
	return &Response{
		Command: req.Command,
		Error:   fmt.Sprintf("unknown command '%s'", req.Command),
	}
}

func (d *Dispatcher) trigger(action Action, req *model.CommandRequest) *Response {
	if action.Scope == ScopeSingle {
		if err := d.reg.Trigger(req.Name); err != nil {
			return errorResponse(req.Command, err)
		}
		return &Response{Command: req.Command, Result: "triggered"}
	}
	count := 0
	for _, t := range d.reg.Tasks(action.Scope.Filter()) {
		if err := d.reg.Trigger(t.Name); err == nil {
			count++
		}
	}
	return &Response{Command: req.Command, Result: fmt.Sprintf("%d triggered", count)}
}

func (d *Dispatcher) describe(req *model.CommandRequest) *Response {
	r := expr.Request{
		Expression:              req.Expression,
		ExpressionType:          req.ExpressionType,
		TimeZone:                d.env.TimeZone,
		Offset:                  req.Offset,
		SolarType:               req.SolarType,
		SolarEvents:             req.SolarEvents,
		LocationType:            req.LocationType,
		DefaultLocation:         d.env.DefaultLocation,
		DefaultLocationType:     d.env.DefaultLocationType,
		IncludeSolarStateOffset: true,
		Use24HourFormat:         d.env.Use24HourFormat,
	}
	if req.ExpressionType == model.ExpressionSolar && req.Location != "" {
		r.Expression = req.Location
	}
	return &Response{Command: req.Command, Result: expr.Describe(r, d.env.Defaults())}
}

func (d *Dispatcher) status(action Action, req *model.CommandRequest) *Response {
	if action.Scope == ScopeSingle {
		st, err := d.reg.Status(req.Name)
		if err != nil {
			return errorResponse(req.Command, err)
		}
		return &Response{Command: req.Command, Result: st}
	}
	results := []namedResult{}
	for _, t := range d.reg.Tasks(action.Scope.Filter()) {
		if st, err := d.reg.Status(t.Name); err == nil {
			results = append(results, namedResult{Name: t.Name, Result: st})
		}
	}
	return &Response{Command: req.Command, Result: results}
}

func (d *Dispatcher) list(action Action, req *model.CommandRequest) *Response {
	if action.Scope == ScopeSingle {
		s, ok := d.tracker.Schedule(req.Name)
		if !ok {
			return errorResponse(req.Command, registry.ErrScheduleNotFound)
		}
		return &Response{Command: req.Command, Result: s}
	}
	filter := action.Scope.Filter()
	schedules := []model.Schedule{}
	for _, t := range d.reg.Tasks(filter) {
		if s, ok := d.tracker.Schedule(t.Name); ok {
			schedules = append(schedules, s)
		}
	}
	return &Response{Command: req.Command, Result: schedules}
}

func (d *Dispatcher) export(action Action, req *model.CommandRequest) *Response {
	if action.Scope == ScopeSingle {
		exported, err := d.reg.Export(req.Name)
		if err != nil {
			return errorResponse(req.Command, err)
		}
		return &Response{Command: req.Command, Result: exported}
	}
	results := []*model.ExportedTask{}
	for _, t := range d.reg.Tasks(action.Scope.Filter()) {
		if exported, err := d.reg.Export(t.Name); err == nil {
			results = append(results, exported)
		}
	}
	return &Response{Command: req.Command, Result: results}
}

func (d *Dispatcher) update(req *model.CommandRequest) *Response {
	opt := req.Option
	if err := d.reg.Update(&opt); err != nil {
		return errorResponse(req.Command, err)
	}
	return &Response{Command: req.Command, Result: "updated"}
}

func (d *Dispatcher) clear(req *model.CommandRequest) *Response {
	for _, t := range d.reg.Tasks(registry.FilterAll) {
		d.tracker.Remove(t.Name)
		d.reg.Delete(t.Name)
	}
	return &Response{Command: req.Command, Result: "cleared"}
}

func (d *Dispatcher) remove(action Action, req *model.CommandRequest) *Response {
	if action.Scope == ScopeSingle {
		if _, ok := d.reg.Get(req.Name); !ok {
			return errorResponse(req.Command, registry.ErrScheduleNotFound)
		}
		d.deleteWithCompanion(req.Name)
		return &Response{Command: req.Command, Result: "removed"}
	}
	count := 0
	for _, t := range d.reg.Tasks(action.Scope.Filter()) {
		d.deleteWithCompanion(t.Name)
		count++
	}
	return &Response{Command: req.Command, Result: fmt.Sprintf("%d removed", count)}
}

func (d *Dispatcher) deleteWithCompanion(name string) {
	companion := name + tracker.EndTaskSuffix
	if _, ok := d.reg.Get(companion); ok {
		d.reg.Delete(companion)
	}
	d.reg.Delete(name)
	d.tracker.Remove(name)
}

func (d *Dispatcher) start(action Action, req *model.CommandRequest) *Response {
	if action.Scope == ScopeSingle {
		if err := d.reg.StartTask(req.Name); err != nil {
			return errorResponse(req.Command, err)
		}
		return &Response{Command: req.Command, Result: "started"}
	}
	d.reg.StartAll(action.Scope.Filter())
	return &Response{Command: req.Command, Result: "started"}
}

func (d *Dispatcher) stopOrPause(action Action, req *model.CommandRequest, resetCount bool) *Response {
	verb := "paused"
	if resetCount {
		verb = "stopped"
	}
	if action.Scope == ScopeSingle {
		if err := d.reg.StopTask(req.Name, resetCount); err != nil {
			return errorResponse(req.Command, err)
		}
		return &Response{Command: req.Command, Result: verb}
	}
	d.reg.StopAll(action.Scope.Filter(), resetCount)
	return &Response{Command: req.Command, Result: verb}
}

// nextResult describes the chronologically soonest upcoming firing.
type nextResult struct {
	Name        string    `json:"name"`
	Topic       string    `json:"topic"`
	Next        time.Time `json:"next"`
	NextLocal   string    `json:"nextLocal"`
	TimeZone    string    `json:"timeZone"`
	When        string    `json:"when"`
	MSUntil     int64     `json:"msUntil"`
	Description string    `json:"description,omitempty"`
}

func (d *Dispatcher) next(req *model.CommandRequest) *Response {
	t := d.reg.Next()
	if t == nil {
		return &Response{Command: req.Command, Result: "Never"}
	}
	at, err := d.reg.NextOccurrence(t.Name)
	if err != nil {
		return &Response{Command: req.Command, Result: "Never"}
	}
	st, err := d.reg.Status(t.Name)
	if err != nil {
		return errorResponse(req.Command, err)
	}
	return &Response{Command: req.Command, Result: &nextResult{
		Name:        t.Name,
		Topic:       t.Opt.Topic,
		Next:        at,
		NextLocal:   expr.FormatInZone(at, d.env.TimeZone, d.env.Use24HourFormat),
		TimeZone:    d.env.TimeZone,
		When:        st.NextDescription,
		MSUntil:     time.Until(at).Milliseconds(),
		Description: st.Description,
	}}
}

// debugResult bundles a task's full state for diagnostics.
type debugResult struct {
	Config *model.ExportedTask `json:"config"`
	Status *model.TaskStatus   `json:"status"`
}

func (d *Dispatcher) debug(ctx context.Context, action Action, req *model.CommandRequest) *Response {
	collect := func(name string) (*debugResult, error) {
		exported, err := d.reg.Export(name)
		if err != nil {
			return nil, err
		}
		st, err := d.reg.Status(name)
		if err != nil {
			return nil, err
		}
		return &debugResult{Config: exported, Status: st}, nil
	}

	host := monitor.CollectHostStats(ctx)
	if action.Scope == ScopeSingle {
		r, err := collect(req.Name)
		if err != nil {
			return errorResponse(req.Command, err)
		}
		return &Response{Command: req.Command, Result: map[string]any{
			"schedule": r,
			"host":     host,
		}}
	}
	results := []namedResult{}
	for _, t := range d.reg.Tasks(action.Scope.Filter()) {
		if r, err := collect(t.Name); err == nil {
			results = append(results, namedResult{Name: t.Name, Result: r})
		}
	}
	return &Response{Command: req.Command, Result: map[string]any{
		"schedules": results,
		"host":      host,
	}}
}
