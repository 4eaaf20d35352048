package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/code-lab-org/sipg-sub003/sim/rti"
	"github.com/code-lab-org/sipg-sub003/sim/rti/wsrti"
)

var rtiAddr string // Listen address of the websocket RTI

// rtiCmd hosts a federation hub that federates in other processes join with
// `sipg run --rti ws://<addr>/rti`.
var rtiCmd = &cobra.Command{
	Use:   "rti",
	Short: "Serve a websocket RTI for multi-process federations",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := wsrti.NewServer(rti.NewHub())
		if err := srv.Serve(ctx, rtiAddr); err != nil {
			logrus.Fatalf("RTI server failed: %v", err)
		}
		logrus.Infof("RTI stopped; %d federation(s) still open", len(srv.Hub().Federations()))
	},
}

func init() {
	rtiCmd.Flags().StringVar(&rtiAddr, "addr", "127.0.0.1:8989", "Listen address")
	rootCmd.AddCommand(rtiCmd)
}
