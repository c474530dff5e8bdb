package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/caselightd/internal/app"
	"github.com/dokzlo13/caselightd/internal/config"
	"github.com/dokzlo13/caselightd/internal/device"
	"github.com/dokzlo13/caselightd/internal/firmware"
	"github.com/dokzlo13/caselightd/internal/light"
	"github.com/dokzlo13/caselightd/internal/wmi"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "caselightd",
		Short:         "caselightd drives the multi-zone case light of Dell XPS machines.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (defaults apply when empty)")

	load := func() (*config.Config, error) {
		var (
			cfg *config.Config
			err error
		)
		if configPath == "" {
			cfg = config.Default()
		} else if cfg, err = config.Load(configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)
		return cfg, nil
	}

	root.AddCommand(
		newRunCmd(load, &configPath),
		newSetCmd(load),
		newColorsCmd(),
		newEncodeCmd(),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(load func() (*config.Config, error), configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			log.Info().Str("config", *configPath).Str("version", version).Msg("Starting caselightd")

			application := app.New(cfg, *configPath, nil)
			ctx := app.SignalContext()

			if err := application.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to start application")
				return err
			}

			application.Wait()

			if err := application.Stop(); err != nil {
				log.Error().Err(err).Msg("Error during shutdown")
				return err
			}
			return nil
		},
	}
}

func newSetCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		brightness int
		zones      []string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Apply brightness and zone colors once and exit",
		Long: `Apply brightness and zone colors once and exit.

The firmware cannot be read back, so every call sends the full light state.
Brightness defaults to 0, which turns the light off: pass --brightness
together with --zone to see the colors. Zone colors are palette names or
#rrggbb, which picks the closest palette color.`,
		Example: `  caselightd set --brightness 6
  caselightd set --zone 0=ruby --zone 3=diamond --brightness 8
  caselightd set --zone 1=#00ff80 --brightness 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			assignments, err := parseZoneFlags(zones)
			if err != nil {
				return err
			}
			if brightness > light.MaxBrightness {
				return fmt.Errorf("brightness %d exceeds %d", brightness, light.MaxBrightness)
			}
			if brightness < 0 && len(assignments) == 0 {
				return errors.New("nothing to set: pass --brightness or --zone")
			}

			cfg, err := load()
			if err != nil {
				return err
			}

			inv, err := wmi.Open(cfg.Transport.Options())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Dispatch.DrainTimeout.Duration()+cfg.Transport.CallTimeout.Duration())
			defer cancel()

			dev, err := device.Attach(ctx, device.Options{
				Invoker:     inv,
				CallTimeout: cfg.Transport.CallTimeout.Duration(),
			})
			if err != nil {
				inv.Close()
				return err
			}
			defer dev.Detach()

			return applyOnce(ctx, dev, assignments, brightness, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&brightness, "brightness", "b", -1, "brightness 0-8; when omitted the light is sent at 0 (off)")
	cmd.Flags().StringArrayVarP(&zones, "zone", "z", nil, "zone color as <index>=<color>, repeatable")
	return cmd
}

// zoneAssignment is one --zone flag.
type zoneAssignment struct {
	zone  int
	color light.Color
}

func parseZoneFlags(values []string) ([]zoneAssignment, error) {
	out := make([]zoneAssignment, 0, len(values))
	for _, v := range values {
		idx, name, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("zone %q: want <index>=<color>", v)
		}
		zone, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil || zone < 0 || zone >= light.MaxZones {
			return nil, fmt.Errorf("zone %q: %w", v, light.ErrInvalidZone)
		}
		c, err := parseZoneColor(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", v, err)
		}
		out = append(out, zoneAssignment{zone: zone, color: c})
	}
	return out, nil
}

// parseZoneColor takes a palette name, or #rrggbb mapped to the closest
// palette color.
func parseZoneColor(s string) (light.Color, error) {
	if strings.HasPrefix(s, "#") {
		return light.Nearest(s)
	}
	return light.ParseColor(s)
}

// applyOnce queues the brightness, then the zones, waits for the firmware
// and reports what was committed. Zone writes re-apply the queued
// brightness, so no intermediate pass is sent at brightness 0. Without a
// brightness the zones go out at 0, which is off.
func applyOnce(ctx context.Context, dev *device.Device, zones []zoneAssignment, brightness int, out io.Writer) error {
	if brightness >= 0 {
		dev.SetBrightness(uint8(brightness))
	}
	for _, z := range zones {
		if err := dev.SetZoneColor(z.zone, z.color); err != nil {
			return err
		}
	}
	if err := dev.Flush(ctx); err != nil {
		return err
	}

	want := uint8(0)
	if brightness >= 0 {
		want = uint8(brightness)
	}
	if got := dev.Brightness(); got != want {
		return fmt.Errorf("firmware did not accept brightness %d (committed %d)", want, got)
	}

	state := dev.State()
	fmt.Fprintf(out, "brightness %d\n", state.Brightness)
	for i, c := range state.Zones {
		fmt.Fprintf(out, "zone %d %s\n", i, c)
	}
	return nil
}

func newColorsCmd() *cobra.Command {
	var brightness uint8
	cmd := &cobra.Command{
		Use:   "colors",
		Short: "List palette colors with their tint at full and at the given brightness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if brightness > light.MaxBrightness {
				return fmt.Errorf("brightness %d exceeds %d", brightness, light.MaxBrightness)
			}
			writeColors(cmd.OutOrStdout(), brightness)
			return nil
		},
	}
	cmd.Flags().Uint8VarP(&brightness, "brightness", "b", light.MaxBrightness, "brightness 0-8 for the dimmed tint column")
	return cmd
}

func writeColors(out io.Writer, brightness uint8) {
	for _, c := range light.Colors() {
		fmt.Fprintf(out, "%2d  %-10s %s  %s\n", int(c), c, c.Hex(), c.Effective(brightness).Hex())
	}
}

func newEncodeCmd() *cobra.Command {
	var (
		brightness int
		zones      []string
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the firmware command for a brightness and zone colors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if brightness < 0 || brightness > light.MaxBrightness {
				return fmt.Errorf("brightness %d out of range 0-%d", brightness, light.MaxBrightness)
			}
			assignments, err := parseZoneFlags(zones)
			if err != nil {
				return err
			}
			var idx [light.MaxZones]uint8
			for _, z := range assignments {
				idx[z.zone] = uint8(z.color)
			}
			return writeEncoded(cmd.OutOrStdout(), firmware.SetLight(uint8(brightness), idx))
		},
	}
	cmd.Flags().IntVarP(&brightness, "brightness", "b", 0, "brightness 0-8")
	cmd.Flags().StringArrayVarP(&zones, "zone", "z", nil, "zone color as <index>=<color>, repeatable")
	return cmd
}

func writeEncoded(out io.Writer, cmd firmware.Command) error {
	raw, err := cmd.MarshalBinary()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", cmd)
	fmt.Fprint(out, hex.Dump(raw))
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "caselightd %s\n", version)
		},
	}
}
