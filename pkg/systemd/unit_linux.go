//go:build linux

package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// QueryUnit reads the state of one unit from the system bus. A missing unit
// is reported as not-found, not as an error.
func QueryUnit(ctx context.Context, name string) (*UnitStatus, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	unit := unitName(name)
	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return notFound(unit), nil
		}
		return nil, fmt.Errorf("failed to get status for %s: %w", unit, err)
	}
	return statusFromProps(unit, props), nil
}
