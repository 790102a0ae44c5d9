package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taoyao-code/htram-gateway/internal/app"
	"github.com/taoyao-code/htram-gateway/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/htram-gateway/internal/config"
	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/transport/ble"
)

var scanTimeout time.Duration

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(syncTimeCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 10*time.Second, "scan duration")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the polling gateway",
	Example: `  htram-gateway serve --config configs/example.yaml
  htram-gateway serve --simulate`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		return bootstrap.Run(cmd.Context(), cfg, logger, bootstrap.Options{Simulate: simulate})
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll [device]",
	Short: "Poll devices once and print readings as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return eachDevice(cmd, args, func(ctx context.Context, p *app.Poller) error {
			rd, err := p.Poll(ctx)
			out := map[string]interface{}{"device": p.Name(), "reading": rd}
			if err != nil {
				out["error"] = err.Error()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(out); encErr != nil {
				return encErr
			}
			return err
		})
	},
}

var syncTimeCmd = &cobra.Command{
	Use:   "sync-time [device]",
	Short: "Set device clocks to the current UTC time",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return eachDevice(cmd, args, func(ctx context.Context, p *app.Poller) error {
			if err := p.SyncTime(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: clock synced\n", p.Name())
			return nil
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <trace.yaml>",
	Short: "Decode a captured frame trace",
	Long: `Decodes every frame of a YAML capture with the variant it declares,
re-encodes downlink frames and reports byte mismatches, and prints the
telemetry carried by uplink frames.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := htram.LoadTrace(args[0])
		if err != nil {
			return err
		}
		return replayTrace(cmd.OutOrStdout(), tr)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for advertising HTRAM monitors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		_, tr, err := app.NewBLETransport(cfg.BLE, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Scanning for %s...\n", scanTimeout)
		found, err := tr.Scan(cmd.Context(), scanTimeout)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		printAdvertisements(cmd.OutOrStdout(), found)
		return nil
	},
}

func printAdvertisements(w io.Writer, found []ble.Advertisement) {
	if len(found) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}
	for i, adv := range found {
		fmt.Fprintf(w, "%d. %s  %s  rssi=%d\n", i+1, adv.Address, adv.Name, adv.RSSI)
	}
}

// eachDevice 为一次性命令装配设备（无分发目标），对选中的设备依次执行 fn
func eachDevice(cmd *cobra.Command, args []string, fn func(ctx context.Context, p *app.Poller) error) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var factory app.TransportFactory
	if simulate {
		factory, err = app.NewSimulatedTransport(cfg.BLE, logger)
	} else {
		factory, _, err = app.NewBLETransport(cfg.BLE, logger)
	}
	if err != nil {
		return err
	}

	if len(args) == 1 {
		dev, ok := findDevice(cfg, args[0])
		if !ok {
			return fmt.Errorf("unknown device %q", args[0])
		}
		cfg.Devices = []cfgpkg.DeviceConfig{dev}
	}

	devices, err := app.BuildDevices(cfg, factory, nil, nil, logger)
	if err != nil {
		return err
	}
	defer devices.Close()

	var failed int
	for _, name := range devices.Names() {
		p, _ := devices.Get(name)
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Engine.CycleTimeout+cfg.Session.ConnectTimeout)
		err := fn(ctx, p)
		cancel()
		if err != nil {
			failed++
			logger.Error("device command failed", zap.String("device", name), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d devices failed", failed, len(devices.Names()))
	}
	return nil
}

func findDevice(cfg *cfgpkg.Config, name string) (cfgpkg.DeviceConfig, bool) {
	for _, d := range cfg.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return cfgpkg.DeviceConfig{}, false
}

// replayTrace 解码抓包中的每一帧；下行帧重新编码比对，上行帧打印遥测
func replayTrace(w io.Writer, tr *htram.Trace) error {
	variant, err := htram.ParseVariant(tr.Variant)
	if err != nil {
		return err
	}
	codec := htram.NewCodec(htram.WithVariant(variant), htram.WithAcceptedVariants(htram.VariantBuypass, htram.VariantXModem))

	fmt.Fprintf(w, "trace %q: %d frames, variant %s\n", tr.Device, len(tr.Frames), tr.Variant)
	var bad int
	for i, fr := range tr.Frames {
		raw, err := fr.Bytes()
		if err != nil {
			return err
		}
		f, err := codec.Decode(raw)
		if err != nil {
			bad++
			fmt.Fprintf(w, "%3d %-2s %-20s DECODE ERROR: %v\n", i, fr.Direction, fr.Label, err)
			continue
		}
		line := fmt.Sprintf("%3d %-2s %-20s cmd=%04X len=%d", i, fr.Direction, fr.Label, uint16(f.Command()), len(f.Payload()))
		if fr.IsTX() {
			re := codec.Encode(f.Command(), f.Payload()).Bytes()
			if string(re) != string(raw) {
				bad++
				line += fmt.Sprintf(" REENCODE MISMATCH % X", re)
			}
		} else {
			line += " " + describeReply(f)
		}
		if fr.Synthetic {
			line += " (synthetic)"
		}
		fmt.Fprintln(w, line)
	}
	if bad > 0 {
		return fmt.Errorf("%d frames failed", bad)
	}
	return nil
}

func describeReply(f htram.Frame) string {
	kind, ok := htram.ReplyKindOf(f.Command())
	if !ok {
		return "unknown"
	}
	var v interface{}
	var err error
	switch kind {
	case htram.ReplyRealtime:
		v, err = htram.DecodeRealtime(f)
	case htram.ReplySound:
		v, err = htram.DecodeSound(f)
	case htram.ReplySettings:
		v, err = htram.DecodeSettings(f)
	}
	if err != nil {
		return fmt.Sprintf("%s: %v", kind, err)
	}
	return fmt.Sprintf("%s %+v", kind, v)
}
