package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/homewatt/flex/config"
	"github.com/homewatt/flex/core/forecast"
	"github.com/homewatt/flex/infra/logger"
	"github.com/homewatt/flex/infra/mqtt"
)

var (
	simInterval time.Duration
	simCount    int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish synthetic price forecasts to the broker",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().DurationVar(&simInterval, "interval", time.Minute, "delay between forecasts")
	simulateCmd.Flags().IntVar(&simCount, "count", 0, "number of forecasts to publish, 0 for unbounded")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New("simulate")
	pub, err := mqtt.NewPublisher(cfg.MQTT, logg)
	if err != nil {
		return fmt.Errorf("mqtt publisher: %w", err)
	}
	defer pub.Disconnect()

	gen := forecast.NewGenerator(cfg.Generator)
	ticker := time.NewTicker(simInterval)
	defer ticker.Stop()

	for i := 0; simCount == 0 || i < simCount; i++ {
		f := gen.Generate(time.Now())
		if err := pub.Publish(f); err != nil {
			logg.Errorf("publish forecast: %v", err)
		} else {
			logg.Infof("published %d-hour forecast for %s", len(f.Prices), f.Region)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
