package root

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gpurent/internal/archive"
	"gpurent/internal/marketplace"
	"gpurent/internal/metric"
	"gpurent/internal/runlog"
)

var Cmd = &cobra.Command{
	Use:   "gpurent",
	Short: "GPU marketplace run orchestrator",
	Long:  `gpurent rents ephemeral GPU compute from a marketplace, runs a workload on it and guarantees teardown`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Usage()
	},
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	Cmd.PersistentFlags().String("api-key", "", "Marketplace API key")
	Cmd.PersistentFlags().String("api-url", marketplace.DefaultBaseURL, "Marketplace API base URL")

	Cmd.PersistentFlags().String("ssh-key", "", "Path to SSH private key")
	Cmd.PersistentFlags().String("ssh-password", "", "SSH password (used when no key is given)")

	Cmd.PersistentFlags().String("runlog", "gpurent.db", "Run log database path")

	Cmd.PersistentFlags().Int("min-vram", 0, "Minimum VRAM in GB")
	Cmd.PersistentFlags().Float64("max-price", 0, "Maximum price per hour (0 means no cap)")
	Cmd.PersistentFlags().String("gpu", "", "GPU name substring")
	Cmd.PersistentFlags().Float64("min-reliability", 0, "Minimum reliability percentage")
	Cmd.PersistentFlags().Bool("spot", false, "Include spot (preemptible) offers")

	Cmd.PersistentFlags().Int("instance", 0, "Instance id")
	Cmd.PersistentFlags().String("params", "", "Workload parameter file (YAML)")
	Cmd.PersistentFlags().String("image", "pytorch/pytorch:latest", "Docker image to boot")
	Cmd.PersistentFlags().Int("disk", 20, "Disk size in GB")
	Cmd.PersistentFlags().String("output", "output", "Local artifact destination")
	Cmd.PersistentFlags().Duration("ready-timeout", 5*time.Minute, "Instance readiness timeout")
	Cmd.PersistentFlags().Duration("exec-timeout", 2*time.Hour, "Hard remote execution timeout")

	Cmd.PersistentFlags().String("influxdb", "", "InfluxDB endpoint")
	Cmd.PersistentFlags().String("influxdb-token", "", "InfluxDB token")
	Cmd.PersistentFlags().String("influxdb-bucket", "", "InfluxDB bucket")
	Cmd.PersistentFlags().String("influxdb-org", "", "InfluxDB organization")

	Cmd.PersistentFlags().String("archive-driver", "", "Artifact archive driver (local, s3 or gcs)")
	Cmd.PersistentFlags().String("archive-bucket", "", "Artifact archive bucket or directory")
	Cmd.PersistentFlags().String("aws-region", "", "AWS region")
	Cmd.PersistentFlags().String("aws-endpoint", "", "AWS endpoint")
	Cmd.PersistentFlags().String("aws-id", "", "AWS id")
	Cmd.PersistentFlags().String("aws-secret", "", "AWS secret")

	Cmd.PersistentFlags().Bool("verbose", false, "Debug logging")

	viper.SetEnvPrefix("gpurent")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(Cmd.PersistentFlags()); err != nil {
		log.WithError(err).Fatal("flag binding failed")
	}

	cobra.OnInitialize(func() {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
	})
}

type Component struct {
	Market  marketplace.Client
	RunLog  *runlog.Store
	Metric  metric.Client
	Archive archive.Bucket
}

func GetComponent(loadMarket, loadRunLog, loadMetric, loadArchive bool) *Component {
	component := &Component{Metric: &metric.Null{}}

	if loadMarket {
		client, err := marketplace.NewREST(viper.GetString("api-url"), viper.GetString("api-key"))

		if err != nil {
			log.WithError(err).Fatal("marketplace client (is GPURENT_API_KEY set?)")
		}

		component.Market = client
	}

	if loadRunLog {
		path := viper.GetString("runlog")
		store, err := runlog.Open(path)

		if err != nil {
			log.WithError(err).Fatalf("unable to open run log '%s'", path)
		}

		log.Debugf("run log opened at '%s'", path)
		component.RunLog = store
	}

	if loadMetric {
		if addr := viper.GetString("influxdb"); addr != "" {
			metricClient, err := metric.NewInfluxdb(metric.InfluxdbConfig{
				Addr:   addr,
				Token:  viper.GetString("influxdb-token"),
				Bucket: viper.GetString("influxdb-bucket"),
				Org:    viper.GetString("influxdb-org"),
			})

			if err != nil {
				log.WithError(err).Fatalf("unable to connect to metrics '%s'", addr)
			}

			log.Infof("connected to metrics '%s'", addr)
			component.Metric = metricClient
		}
	}

	if loadArchive {
		component.Archive = openArchive()
	}

	return component
}

func openArchive() archive.Bucket {
	driver := viper.GetString("archive-driver")

	if driver == "" {
		return nil
	}

	bucketName := viper.GetString("archive-bucket")
	ctx := context.Background()

	var (
		bucket archive.Bucket
		err    error
	)

	switch driver {
	case "local":
		bucket, err = archive.NewLocal(ctx, bucketName)
	case "s3":
		bucket, err = archive.NewS3(ctx, bucketName, &aws.Config{
			Endpoint:    aws.String(viper.GetString("aws-endpoint")),
			Region:      aws.String(viper.GetString("aws-region")),
			Credentials: credentials.NewStaticCredentials(viper.GetString("aws-id"), viper.GetString("aws-secret"), ""),
		})
	case "gcs":
		bucket, err = archive.NewGCS(ctx, bucketName)
	default:
		log.Fatalf("unknown archive driver '%s'", driver)
	}

	if err != nil {
		log.WithError(err).Fatalf("unable to open archive '%s'", bucketName)
	}

	log.Infof("artifact archive '%s' (%s)", bucketName, driver)

	return bucket
}
