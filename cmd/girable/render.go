package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/girable/internal/controller"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/state"
)

var (
	colorTime    = color.New(color.FgHiBlack).SprintFunc()
	colorName    = color.New(color.FgCyan, color.Bold).SprintFunc()
	colorChanged = color.New(color.FgYellow, color.Bold).SprintFunc()
	colorAction  = color.New(color.FgRed).SprintFunc()
)

var fieldUnits = map[state.Field]string{
	state.Position:           "%",
	state.CurrentTemperature: "°C",
	state.TargetTemperature:  "°C",
	state.SensorTemperature:  "°C",
	state.SensorBrightness:   "lx",
}

// stateLines renders snapshots as one colored line each, highlighting the
// values that changed since the previous line.
type stateLines struct {
	ctrl *controller.Controller
	prev state.Snapshot
}

// renderFields formats every set field of s in display order.
func renderFields(s state.Snapshot) *orderedmap.OrderedMap[string, string] {
	om := orderedmap.New[string, string]()
	for _, f := range s.Names() {
		v, _ := s.Get(f)
		om.Set(string(f), formatValue(f, v))
	}
	return om
}

func formatValue(f state.Field, v float64) string {
	switch f {
	case state.Position:
		return fmt.Sprintf("%.0f%s", v, fieldUnits[f])
	case state.SensorBrightness:
		return fmt.Sprintf("%.0f %s", v, fieldUnits[f])
	default:
		return fmt.Sprintf("%.2f%s", v, fieldUnits[f])
	}
}

func (l *stateLines) line(s state.Snapshot) string {
	current := renderFields(s)
	previous := renderFields(l.prev)
	l.prev = s

	parts := make([]string, 0, current.Len()+1)
	for pair := current.Oldest(); pair != nil; pair = pair.Next() {
		text := pair.Key + "=" + pair.Value
		if old, ok := previous.Get(pair.Key); !ok || old != pair.Value {
			text = colorChanged(text)
		}
		parts = append(parts, text)
	}

	if l.ctrl.Type() == device.TypeThermostat {
		if action := l.ctrl.HVACAction(); action == controller.ActionHeating {
			parts = append(parts, colorAction(string(action)))
		} else if action != controller.ActionUnknown {
			parts = append(parts, string(action))
		}
	}

	ts := s.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s %s %s", colorTime(ts.Format("15:04:05")), colorName(l.ctrl.Name()), strings.Join(parts, " "))
}

// contextWithOptionalTimeout bounds ctx by d when d is positive.
func contextWithOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
