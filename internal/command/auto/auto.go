package auto

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gpurent/internal/command/list"
	"gpurent/internal/command/root"
	"gpurent/internal/lifecycle"
	"gpurent/internal/metric"
	"gpurent/internal/orchestrator"
	"gpurent/internal/registry"
	"gpurent/internal/remote"
	"gpurent/internal/signal"
	"gpurent/internal/util"
	"gpurent/internal/workload"
)

var logger = log.WithField("app", "auto")

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.PersistentFlags().Bool("keep", false, "Keep the instance after the run (keeps billing)")
	cmd.PersistentFlags().Bool("preserve-on-failure", false, "Keep a timed-out instance for inspection instead of destroying it")
	cmd.PersistentFlags().Bool("dry-run", false, "Search and print the selected offer without renting")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		logger.WithError(err).Fatal("flag binding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "auto",
	Short: "Search, rent, run, retrieve, destroy",
	Long:  `Full automatic flow: pick the cheapest viable offer, rent it, run the workload, retrieve artifacts and tear the instance down whatever happens`,
	Run: func(cmd *cobra.Command, args []string) {
		params, err := workload.Load(viper.GetString("params"))

		if err != nil {
			logger.WithError(err).Fatal("workload params")
		}

		if err := params.Validate(); err != nil {
			logger.WithError(err).Fatal("workload params")
		}

		filter := list.FilterFromFlags()

		if viper.GetBool("dry-run") {
			cmpt := root.GetComponent(true, false, false, false)

			offers, err := cmpt.Market.SearchOffers(context.Background(), filter)

			if err != nil {
				logger.WithError(err).Fatal("offer search failed")
			}

			if len(offers) == 0 {
				logger.Fatal("no offers match the filter")
			}

			best := offers[0]
			fmt.Printf("would rent offer %d: %s %dGB at $%.4f/hr (%.1f%% reliability)\n",
				best.ID, best.GPUName, best.VRAMGb, best.PricePerHour, best.Reliability)
			return
		}

		cmpt := root.GetComponent(true, true, true, true)
		defer cmpt.RunLog.Close()

		ctx := signal.WatchInterrupt(cmd.Context(), 3*time.Minute)

		manager := lifecycle.NewManager(cmpt.Market, registry.New())

		dialer := orchestrator.SSHDialer{
			Credential: remote.Credential{
				KeyPath:  viper.GetString("ssh-key"),
				Password: viper.GetString("ssh-password"),
			},
			Options: remote.DefaultConnectOptions(),
		}

		orch := orchestrator.New(cmpt.Market, manager, dialer).
			WithRunLog(cmpt.RunLog).
			WithMetrics(cmpt.Metric)

		if cmpt.Archive != nil {
			orch = orch.WithArchive(cmpt.Archive)
		}

		if err := orch.Startup(ctx); err != nil {
			logger.WithError(err).Fatal("registry reconciliation failed")
		}

		cmpt.Metric.Add(&metric.GaugeMetric{
			Name:   "gpurent_active_instances",
			Sample: func() interface{} { return manager.Registry().Len() },
		})
		go cmpt.Metric.Ticker(ctx, 30*time.Second)

		result, err := orch.Run(ctx, filter, params, orchestrator.Options{
			Image:             viper.GetString("image"),
			DiskSizeGb:        viper.GetInt("disk"),
			Label:             "gpurent-" + util.RandomSuffix(4),
			KeepInstance:      viper.GetBool("keep"),
			PreserveOnFailure: viper.GetBool("preserve-on-failure"),
			ReadyTimeout:      viper.GetDuration("ready-timeout"),
			ExecTimeout:       viper.GetDuration("exec-timeout"),
			LocalDest:         viper.GetString("output"),
			Sink:              os.Stdout,
		})

		report(result)

		if err != nil {
			logger.WithError(err).Fatal("run terminated with error")
		}
	},
}

// report prints the terminal billing state: last known instance id and
// whether it was destroyed, so the user can always verify manually.
func report(result *orchestrator.RunResult) {
	if result == nil {
		return
	}

	fmt.Printf("outcome: %s (elapsed %s)\n", result.Outcome, result.Elapsed.Round(time.Second))

	if result.InstanceID == 0 {
		fmt.Println("no instance was ever reserved")
		return
	}

	fmt.Printf("instance: %d (%s, $%.4f/hr)\n", result.InstanceID, result.GPUName, result.PricePerHour)

	switch {
	case result.Destroyed:
		fmt.Println("instance destroyed, billing stopped")
	case result.Preserved:
		fmt.Println("instance kept on request: IT IS STILL BILLING, destroy it with: gpurent destroy --instance", result.InstanceID)
	default:
		fmt.Println("WARNING: instance may still be billing, verify with: gpurent instances")
	}

	if len(result.Artifacts.Retrieved) > 0 {
		fmt.Printf("artifacts retrieved: %d\n", len(result.Artifacts.Retrieved))
	}

	if len(result.Artifacts.Missing) > 0 {
		fmt.Printf("artifacts missing: %v\n", result.Artifacts.Missing)
	}
}
