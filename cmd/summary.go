package cmd

import (
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/code-lab-org/sipg-sub003/sim"
)

// printSummary writes the country-level view of the final committed state.
func printSummary(w io.Writer, s *sim.Simulator) {
	root := s.Root
	fmt.Fprintln(w, "=== Simulation Summary ===")
	fmt.Fprintf(w, "Society              : %s (%d cities)\n", root.Name(), len(root.Cities()))
	fmt.Fprintf(w, "Clock                : %s\n", s.Clock)

	social := root.SoS(sim.Social).Attributes()
	fmt.Fprintf(w, "Population           : %s\n", humanize.Comma(int64(math.Round(social[sim.KeyPopulation]))))

	for _, sector := range sim.ResourceSectors {
		sos := root.SoS(sector)
		a := sos.Attributes()
		good := sector.Good()
		fmt.Fprintf(w, "--- %s ---\n", sector)
		fmt.Fprintf(w, "  Production         : %s\n", quantity(a[good+"Production"]))
		fmt.Fprintf(w, "  Consumption        : %s\n", quantity(a[good+"Consumption"]))
		fmt.Fprintf(w, "  Import / Export    : %s / %s\n", quantity(a[good+"Import"]), quantity(a[good+"Export"]))
		fmt.Fprintf(w, "  Cumulative cash    : %s\n", quantity(a[sim.KeyCumulativeCashFlow]))
		if sector == sim.Water {
			if life := sim.WaterLifetime(a); !math.IsInf(life, 1) {
				fmt.Fprintf(w, "  Aquifer lifetime   : %s years\n", humanize.FtoaWithDigits(life, 1))
			}
		}
		if res := sos.LastResult(); !res.OK && res.Reason != "" {
			fmt.Fprintf(w, "  Last optimization  : failed (%s)\n", res.Reason)
		}
	}
}

func quantity(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}
