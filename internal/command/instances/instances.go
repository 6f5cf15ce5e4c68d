package instances

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gpurent/internal/command/root"
)

func init() {
	root.Cmd.AddCommand(cmd)
}

var cmd = &cobra.Command{
	Use:   "instances",
	Short: "List active instances",
	Long:  `List the instances the provider currently bills for; this listing, not local state, is the source of truth`,
	Run: func(cmd *cobra.Command, args []string) {
		cmpt := root.GetComponent(true, false, false, false)

		instances, err := cmpt.Market.ListInstances(context.Background())

		if err != nil {
			log.WithError(err).Fatal("instance listing failed")
		}

		if len(instances) == 0 {
			fmt.Println("no active instances")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INSTANCE\tLABEL\tGPU\tSTATUS\tENDPOINT\t$/HR")

		for _, i := range instances {
			endpoint := "-"

			if i.Endpoint.Populated() {
				endpoint = fmt.Sprintf("%s@%s:%d", i.Endpoint.User, i.Endpoint.Host, i.Endpoint.Port)
			}

			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.4f\n", i.ID, i.Label, i.GPUName, i.Status, endpoint, i.PricePerHour)
		}

		_ = w.Flush()
	},
}
