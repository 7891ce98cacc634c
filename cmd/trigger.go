package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/homewatt/flex/app"
	"github.com/homewatt/flex/config"
	"github.com/homewatt/flex/core/model"
)

var seedHouseholds int

var triggerCmd = &cobra.Command{
	Use:   "trigger [event-type]",
	Short: "Inject a grid event and open a recommendation cohort",
	Long: `Inject a grid event by type name (DEMAND_REDUCTION, PRICE_SPIKE,
HEAT_WAVE, COLD_SNAP, RENEWABLE_SURPLUS) and print the resulting cohort.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrigger,
}

func init() {
	triggerCmd.Flags().IntVar(&seedHouseholds, "seed", 0, "seed N demo households before triggering")
	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, ok := model.ParseEventType(args[0])
	if !ok {
		return fmt.Errorf("unknown event type %q", args[0])
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if seedHouseholds > 0 {
		if err := seedDemoFleet(ctx, svc, seedHouseholds); err != nil {
			return fmt.Errorf("seed households: %w", err)
		}
	}

	res, err := svc.Engine.TriggerEvent(ctx, t)
	if err != nil {
		return err
	}
	fmt.Printf("event %s (%s) severity %d: %d recommendations, %d expired\n",
		res.Event.ID, res.Event.Type, res.Event.Severity, len(res.Recommendations), res.Expired)
	for _, r := range res.Recommendations {
		fmt.Printf("  %s  household=%s  %.1f°C -> %.1f°C  credits=%d  est=$%.2f\n",
			r.ID, r.HouseholdID, r.CurrentSetpoint, r.RecommendedSetpoint,
			r.EstimatedCredits, r.EstimatedSavingsUSD)
	}
	return nil
}

// seedDemoFleet creates n demo households with a mixed device fleet.
func seedDemoFleet(ctx context.Context, svc *app.Service, n int) error {
	for i := 0; i < n; i++ {
		h := model.Household{
			ID:   fmt.Sprintf("demo-%03d", i+1),
			Name: fmt.Sprintf("Demo Home %d", i+1),
			HVAC: model.HVACState{CurrentTemp: 23 + float64(i%3), Setpoint: 21, Mode: model.ModeCool},
			Devices: []model.Device{
				{Type: model.DeviceThermostat, Name: "hallway", PowerKW: 3.5},
			},
		}
		switch i % 3 {
		case 0:
			h.Devices = append(h.Devices, model.Device{Type: model.DeviceEVCharger, Name: "garage", PowerKW: 7.4})
		case 1:
			h.Devices = append(h.Devices, model.Device{Type: model.DeviceBattery, Name: "wall", PowerKW: 5, CapacityKWh: 13.5, Level: 0.6})
		default:
			h.Devices = append(h.Devices, model.Device{Type: model.DevicePoolPump, Name: "pool", PowerKW: 1.1})
		}
		if err := svc.Store.PutHousehold(ctx, h); err != nil {
			return err
		}
	}
	return nil
}
