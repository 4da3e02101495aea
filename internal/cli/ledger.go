package cli

import (
	"fmt"
	"time"

	"campaignd/internal/config"
	"campaignd/internal/storage"
	logx "campaignd/pkg/logx"
)

// openLedger opens the ledger named by the config file. Only the storage
// section and the campaign timezone need to be valid, so maintenance
// commands work on a half-finished config.
func openLedger(configPath string, readOnly bool, log logx.Logger) (storage.Ledger, *time.Location, error) {
	cfg, err := config.NewConfigManager(configPath).Parse()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := config.ResolveStorage(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	loc, err := config.ResolveLocation(cfg.Campaign.Timezone)
	if err != nil {
		return nil, nil, err
	}
	l, err := storage.Open(storage.Config{
		Driver:      st.Driver,
		Path:        st.Path,
		BusyTimeout: st.BusyTimeout,
		ReadOnly:    readOnly,
		Now:         func() time.Time { return time.Now().In(loc) },
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return l, loc, nil
}
