package reserve

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gpurent/internal/command/root"
	"gpurent/internal/lifecycle"
	"gpurent/internal/marketplace"
	"gpurent/internal/registry"
	"gpurent/internal/util"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.PersistentFlags().Int("offer", 0, "Offer id to reserve")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		log.WithError(err).Fatal("flag binding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "reserve",
	Short: "Rent a specific offer",
	Long:  `Reserve the given marketplace offer and print the resulting instance`,
	Run: func(cmd *cobra.Command, args []string) {
		offerID := viper.GetInt("offer")

		if offerID == 0 {
			log.Fatal("--offer is required")
		}

		cmpt := root.GetComponent(true, false, false, false)
		manager := lifecycle.NewManager(cmpt.Market, registry.New())

		instance, err := manager.Reserve(context.Background(), offerID, marketplace.InstanceSpec{
			Image:      viper.GetString("image"),
			DiskSizeGb: viper.GetInt("disk"),
			Label:      "gpurent-" + util.RandomSuffix(4),
		})

		if err != nil {
			if marketplace.IsOfferUnavailable(err) {
				log.WithError(err).Fatal("offer was taken by another renter, pick a different one")
			}
			log.WithError(err).Fatal("reservation failed")
		}

		fmt.Printf("instance %d reserved (%s, $%.4f/hr)\n", instance.ID, instance.GPUName, instance.PricePerHour)
		fmt.Printf("endpoint populates once the instance is running; check with: gpurent instances\n")
	},
}
