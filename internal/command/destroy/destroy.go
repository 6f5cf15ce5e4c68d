package destroy

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gpurent/internal/command/root"
	"gpurent/internal/lifecycle"
	"gpurent/internal/registry"
)

func init() {
	root.Cmd.AddCommand(cmd)
	root.Cmd.AddCommand(allCmd)
}

var cmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy one instance",
	Long:  `Destroy the given instance; destroying an already-destroyed instance succeeds`,
	Run: func(cmd *cobra.Command, args []string) {
		instanceID := viper.GetInt("instance")

		if instanceID == 0 {
			log.Fatal("--instance is required")
		}

		cmpt := root.GetComponent(true, false, false, false)
		manager := lifecycle.NewManager(cmpt.Market, registry.New())

		ok, err := manager.Destroy(context.Background(), instanceID)

		if err != nil || !ok {
			log.WithError(err).Fatalf("destroy failed, instance %d may still be billing", instanceID)
		}

		fmt.Printf("instance %d destroyed\n", instanceID)
	},
}

var allCmd = &cobra.Command{
	Use:   "destroy-all",
	Short: "Destroy every active instance",
	Long:  `Destroy every instance the provider lists, catching orphans from prior crashed runs`,
	Run: func(cmd *cobra.Command, args []string) {
		cmpt := root.GetComponent(true, false, false, false)
		manager := lifecycle.NewManager(cmpt.Market, registry.New())

		destroyed, attempted, err := manager.DestroyAll(context.Background())

		fmt.Printf("destroyed %d of %d instances\n", destroyed, attempted)

		if err != nil {
			log.WithError(err).Fatal("some instances could not be destroyed and may still be billing")
		}
	},
}
