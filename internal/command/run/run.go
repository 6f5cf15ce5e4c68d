package run

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gpurent/internal/command/root"
	"gpurent/internal/lifecycle"
	"gpurent/internal/marketplace"
	"gpurent/internal/registry"
	"gpurent/internal/remote"
	"gpurent/internal/runlog"
	"gpurent/internal/signal"
	"gpurent/internal/workload"
)

var logger = log.WithField("app", "run")

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.PersistentFlags().String("remote-dir", "/workspace", "Remote working directory")
	cmd.PersistentFlags().String("remote-output", "/workspace/output", "Remote output directory")
	cmd.PersistentFlags().Bool("destroy-after", false, "Destroy the instance after the run")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		logger.WithError(err).Fatal("flag binding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workload on an existing instance",
	Long:  `Upload the workload bundle to a reserved instance, execute it with live output and retrieve the artifacts`,
	Run: func(cmd *cobra.Command, args []string) {
		instanceID := viper.GetInt("instance")

		if instanceID == 0 {
			logger.Fatal("--instance is required")
		}

		params, err := workload.Load(viper.GetString("params"))

		if err != nil {
			logger.WithError(err).Fatal("workload params")
		}

		if err := params.Validate(); err != nil {
			logger.WithError(err).Fatal("workload params")
		}

		cmpt := root.GetComponent(true, true, false, false)
		defer cmpt.RunLog.Close()

		ctx := signal.WatchInterrupt(cmd.Context(), 30*time.Second)
		manager := lifecycle.NewManager(cmpt.Market, registry.New())

		instance, err := manager.AwaitReady(ctx, instanceID, viper.GetDuration("ready-timeout"))

		if err != nil {
			logger.WithError(err).Fatal("instance not reachable")
		}

		start := time.Now()
		exitCode, runErr := execute(ctx, instance, params)

		entry := &runlog.Entry{
			InstanceID:   instance.ID,
			GPUName:      instance.GPUName,
			PricePerHour: instance.PricePerHour,
			Duration:     time.Since(start),
			Outcome:      outcome(exitCode, runErr),
		}

		if viper.GetBool("destroy-after") {
			ok, destroyErr := manager.Destroy(ctx, instance.ID)

			if destroyErr != nil || !ok {
				logger.WithError(destroyErr).Errorf("destroy failed, instance %d may still be billing", instance.ID)
			} else {
				entry.Destroyed = true
			}
		}

		if err := cmpt.RunLog.Append(entry); err != nil {
			logger.WithError(err).Error("run log append failed")
		}

		if runErr != nil {
			logger.WithError(runErr).Fatal("run failed")
		}

		if exitCode != 0 {
			logger.Fatalf("workload exited with code %d", exitCode)
		}

		fmt.Println("run complete")
	},
}

func execute(ctx context.Context, instance *marketplace.Instance, params *workload.Params) (int, error) {
	session, err := remote.Connect(ctx, instance.Endpoint, remote.Credential{
		KeyPath:  viper.GetString("ssh-key"),
		Password: viper.GetString("ssh-password"),
	}, remote.DefaultConnectOptions())

	if err != nil {
		return -1, err
	}

	defer session.Close()

	remoteDir := viper.GetString("remote-dir")
	remoteOutput := viper.GetString("remote-output")

	if paths := params.BundlePaths(); len(paths) > 0 {
		if err := session.UploadBundle(ctx, paths, remoteDir); err != nil {
			return -1, err
		}
	}

	exitCode, err := session.Execute(ctx, params.Command(remoteDir, remoteOutput), os.Stdout, viper.GetDuration("exec-timeout"))

	if err != nil {
		return exitCode, err
	}

	remotePaths, err := session.ListRemote(ctx, remoteOutput+"/*")

	if err != nil {
		return exitCode, err
	}

	artifacts, err := session.DownloadArtifacts(ctx, remotePaths, viper.GetString("output"))

	if err != nil {
		return exitCode, err
	}

	if artifacts.Partial() {
		logger.WithField("missing", artifacts.Missing).Warn("partial result")
	}

	logger.WithField("retrieved", len(artifacts.Retrieved)).Info("artifacts downloaded")

	return exitCode, nil
}

func outcome(exitCode int, err error) string {
	switch {
	case err != nil:
		return "failed"
	case exitCode != 0:
		return "failed"
	default:
		return "succeeded"
	}
}
