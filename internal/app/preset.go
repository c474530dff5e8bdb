package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/caselightd/internal/config"
	"github.com/dokzlo13/caselightd/internal/device"
)

// ApplyPreset writes the configured zone colors, then the brightness. Unset
// entries are left alone.
func ApplyPreset(dev *device.Device, preset config.LightConfig) {
	for i, name := range preset.Zones {
		if name == "" {
			continue
		}
		if err := dev.SetZone(i, name); err != nil {
			log.Warn().Err(err).Int("zone", i).Msg("Skipping preset zone")
		}
	}
	if preset.Brightness != nil {
		dev.SetBrightness(*preset.Brightness)
	}
}
