// Package device describes the host the client runs on and renders the User-Agent the
// content API expects.
package device

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/settings"
	"github.com/avalanche-app/rockclient/pkg/config"
	"github.com/avalanche-app/rockclient/pkg/model"
)

type Info struct {
	AppVersion string
	Model      string
	Platform   string
	OSVersion  string
	IsDevice   bool
	ID         string
}

// FromConfig copies the device fields; ID may still be empty.
func FromConfig(cfg config.Config) Info {
	return Info{
		AppVersion: cfg.AppVersion,
		Model:      cfg.DeviceModel,
		Platform:   cfg.DevicePlatform,
		OSVersion:  cfg.DeviceOS,
		IsDevice:   cfg.DevicePhysical,
		ID:         cfg.DeviceID,
	}
}

// UserAgent renders "Avalanche/{version} ({model}; {platform} {os} {sim} - {id})".
func (i Info) UserAgent() string {
	sim := ""
	if !i.IsDevice {
		sim = "Simulated"
	}
	return fmt.Sprintf("Avalanche/%s (%s; %s %s %s - %s)",
		i.AppVersion, i.Model, i.Platform, i.OSVersion, sim, i.ID)
}

// EnsureID fills in i.ID. A configured id wins; otherwise the id persisted under device_id
// is reused, and on first run a new UUID is generated and stored.
func EnsureID(ctx context.Context, i Info, st settings.Store, logger *zap.Logger) (Info, error) {
	if i.ID != "" {
		return i, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id, ok, err := st.Get(ctx, model.SettingDeviceID)
	if err != nil {
		return i, fmt.Errorf("load device id: %w", err)
	}
	if ok && id != "" {
		i.ID = id
		return i, nil
	}

	i.ID = uuid.NewString()
	if err := st.Set(ctx, map[string]string{model.SettingDeviceID: i.ID}); err != nil {
		return i, fmt.Errorf("persist device id: %w", err)
	}
	logger.Info("device.id_generated", zap.String("device_id", i.ID))
	return i, nil
}
