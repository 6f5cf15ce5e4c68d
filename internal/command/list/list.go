package list

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gpurent/internal/command/root"
	"gpurent/internal/marketplace"
)

func init() {
	root.Cmd.AddCommand(cmd)
}

var cmd = &cobra.Command{
	Use:   "list",
	Short: "Search marketplace offers",
	Long:  `List rentable GPU offers matching the filter, cheapest first`,
	Run: func(cmd *cobra.Command, args []string) {
		cmpt := root.GetComponent(true, false, false, false)

		filter := FilterFromFlags()
		offers, err := cmpt.Market.SearchOffers(context.Background(), filter)

		if err != nil {
			log.WithError(err).Fatal("offer search failed")
		}

		if len(offers) == 0 {
			fmt.Println("no offers match the filter")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "OFFER\tGPU\tVRAM\t$/HR\tRELIABILITY\tREGION\tSPOT")

		for _, o := range offers {
			fmt.Fprintf(w, "%d\t%s\t%dGB\t%.4f\t%.1f%%\t%s\t%v\n",
				o.ID, o.GPUName, o.VRAMGb, o.PricePerHour, o.Reliability, o.Region, o.Spot)
		}

		_ = w.Flush()
	},
}

// FilterFromFlags builds the offer filter shared by list and auto.
func FilterFromFlags() marketplace.Filter {
	return marketplace.Filter{
		MinVRAMGb:       viper.GetInt("min-vram"),
		MaxPricePerHour: viper.GetFloat64("max-price"),
		GPUName:         viper.GetString("gpu"),
		MinReliability:  viper.GetFloat64("min-reliability"),
		AllowSpot:       viper.GetBool("spot"),
	}
}
