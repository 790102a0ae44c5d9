// htram-gateway 将 HTRAM BLE 空气质量检测仪接入 Redis、PostgreSQL、MQTT 与 HTTP。
//
// 用法:
//
//	htram-gateway serve [--config path] [--simulate]
//	htram-gateway poll [device]
//	htram-gateway sync-time [device]
//	htram-gateway replay <trace.yaml>
//	htram-gateway scan
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/htram-gateway/internal/config"
	"github.com/taoyao-code/htram-gateway/internal/logging"
)

var (
	configPath string
	simulate   bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "htram-gateway",
	Short: "HTRAM BLE air-quality gateway",
	Long: `Polls HTRAM CO2/temperature/humidity monitors over Bluetooth LE and
fans readings out to Redis, PostgreSQL, MQTT and Prometheus, with an HTTP
API for snapshots and device commands.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $HTRAM_CONFIG or configs/example.yaml)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use in-process simulated devices instead of BLE")
}

// loadRuntime 加载配置并初始化日志
func loadRuntime() (*cfgpkg.Config, *zap.Logger, error) {
	cfg, err := cfgpkg.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
