package systemd

import (
	"errors"
	"strings"
	"time"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

// UnitStatus is the state of a unit as reported by the service manager.
type UnitStatus struct {
	Name        string
	Active      string // active, inactive, failed, ...
	SubState    string // running, dead, ...
	LoadState   string // loaded, not-found, ...
	Description string
	ActiveSince time.Time
	StateChange time.Time
	MainPID     uint32
}

func (s *UnitStatus) Running() bool { return s != nil && s.Active == "active" }

// unitName appends .service when the name carries no unit suffix.
func unitName(name string) string {
	name = strings.TrimSpace(name)
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func notFound(name string) *UnitStatus {
	return &UnitStatus{Name: name, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
}

// statusFromProps maps a D-Bus unit property set.
func statusFromProps(name string, props map[string]any) *UnitStatus {
	load, _ := stringProp(props, "LoadState")
	if load == "not-found" {
		return notFound(name)
	}
	st := &UnitStatus{
		Name:        name,
		LoadState:   load,
		ActiveSince: timestampProp(props, "ActiveEnterTimestamp"),
		StateChange: timestampProp(props, "StateChangeTimestamp"),
	}
	st.Active, _ = stringProp(props, "ActiveState")
	st.SubState, _ = stringProp(props, "SubState")
	st.Description, _ = stringProp(props, "Description")
	if pid, ok := props["MainPID"].(uint32); ok {
		st.MainPID = pid
	}
	return st
}

// timestampProp reads a systemd timestamp (microseconds since the epoch).
func timestampProp(props map[string]any, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		return time.UnixMicro(int64(ts))
	}
	return time.Time{}
}

func stringProp(props map[string]any, key string) (string, bool) {
	v, ok := props[key].(string)
	return v, ok
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
