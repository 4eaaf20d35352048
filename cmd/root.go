package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/code-lab-org/sipg-sub003/sim"
	"github.com/code-lab-org/sipg-sub003/sim/climate"
	"github.com/code-lab-org/sipg-sub003/sim/federation"
	_ "github.com/code-lab-org/sipg-sub003/sim/optimize"
	"github.com/code-lab-org/sipg-sub003/sim/record"
	"github.com/code-lab-org/sipg-sub003/sim/rti"
	"github.com/code-lab-org/sipg-sub003/sim/rti/wsrti"
)

// rtiLocal selects an in-process RTI hub instead of a websocket server.
const rtiLocal = "local"

var (
	// CLI flags for the run
	configPath    string   // Scenario/run configuration file; empty uses the built-in sample
	logLevel      string   // Log verbosity level
	recordPath    string   // SQLite file receiving per-step values
	checkpointDir string   // Directory for initial-state checkpoints
	rtiURL        string   // Websocket RTI URL, "local" for in-process, empty for a standalone run
	owned         []string // Cities simulated by this federate
	federateName  string   // Federate name; generated when empty
	startYear     int      // Overrides simulation.start_year
	endYear       int      // Overrides simulation.end_year
	iterations    int      // Overrides simulation.iterations
	seed          int64    // Overrides simulation.seed
	variability   float64  // Overrides simulation.recharge_variability
	parallelTock  bool     // Commit the root's child subtrees concurrently
	noOptimize    bool     // Disable the flow optimizer
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "sipg",
	Short: "Infrastructure system-of-systems co-simulator",
}

// runCmd executes a simulation, alone or as one federate of a federation
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the infrastructure simulation",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := loadConfig(configPath)
		if err != nil {
			logrus.Fatalf("Failed to load config: %v", err)
		}
		applyOverrides(cmd, cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := run(ctx, cfg)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		printSummary(os.Stdout, s)
	},
}

// applyOverrides copies explicitly set flags over the file values.
func applyOverrides(cmd *cobra.Command, cfg *FileConfig) {
	flags := cmd.Flags()
	if flags.Changed("start-year") {
		cfg.Simulation.StartYear = startYear
	}
	if flags.Changed("end-year") {
		cfg.Simulation.EndYear = endYear
	}
	if flags.Changed("iterations") {
		cfg.Simulation.Iterations = iterations
	}
	if flags.Changed("seed") {
		cfg.Simulation.Seed = seed
	}
	if flags.Changed("recharge-variability") {
		cfg.Simulation.RechargeVariability = variability
	}
	if flags.Changed("parallel-tock") {
		cfg.Simulation.ParallelTock = parallelTock
	}
	if flags.Changed("no-optimize") {
		enabled := !noOptimize
		cfg.Simulation.Optimize = &enabled
	}
	if flags.Changed("owned") {
		cfg.Federation.Owned = owned
	}
	if flags.Changed("federate") {
		cfg.Federation.FederateName = federateName
	}
	if flags.Changed("checkpoint-dir") {
		cfg.Federation.CheckpointDir = checkpointDir
	}
}

// run builds the scenario and drives it to completion. Without an RTI the
// simulator runs standalone; otherwise it joins the federation as one
// federate and the returned simulator holds its final state.
func run(ctx context.Context, cfg *FileConfig) (*sim.Simulator, error) {
	root, err := buildSocieties(cfg.Societies)
	if err != nil {
		return nil, fmt.Errorf("build scenario: %w", err)
	}
	federated := rtiURL != ""
	if !federated && len(cfg.Federation.Owned) > 0 {
		return nil, fmt.Errorf("owned cities require --rti")
	}
	if federated {
		if err := federation.AssignOwnership(root, cfg.Federation.Owned); err != nil {
			return nil, err
		}
	}

	var recharge sim.RechargeModel
	if a := cfg.Simulation.RechargeVariability; a > 0 {
		v, err := climate.NewVariability(sim.NewSimulationKey(cfg.Simulation.Seed), a)
		if err != nil {
			return nil, err
		}
		recharge = v
	}
	s, err := sim.NewSimulator(cfg.SimulationConfig(), root, recharge)
	if err != nil {
		return nil, err
	}

	if !federated {
		closeRecorder, err := attachRecorder(s, "standalone")
		if err != nil {
			return nil, err
		}
		defer closeRecorder()
		return s, s.Run(ctx)
	}

	conn, err := connectRTI(ctx)
	if err != nil {
		return nil, err
	}
	f, err := federation.New(cfg.FederationConfig(), conn, s)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	closeRecorder, err := attachRecorder(s, f.Name())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	defer closeRecorder()

	// An interrupt ends the run after the current step so teardown still
	// resigns cleanly.
	go func() {
		<-ctx.Done()
		f.RequestStop()
	}()
	if err := f.Run(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	if f.Offline() {
		logrus.Warn("federation connection was lost; finished offline")
	}
	return s, nil
}

// attachRecorder registers a SQLite recorder when --record is set.
func attachRecorder(s *sim.Simulator, federate string) (func(), error) {
	if recordPath == "" {
		return func() {}, nil
	}
	rec, err := record.Open(recordPath, federate, s.Config())
	if err != nil {
		return nil, err
	}
	s.AddObserver(rec)
	logrus.WithField("run", rec.RunID()).Infof("recording to %s", recordPath)
	return func() {
		if err := rec.Close(); err != nil {
			logrus.Warnf("close recorder: %v", err)
		}
	}, nil
}

func connectRTI(ctx context.Context) (rti.RTI, error) {
	if rtiURL == rtiLocal {
		return rti.NewHub().Connect(), nil
	}
	return wsrti.Dial(ctx, rtiURL)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML run configuration (default: built-in sample scenario)")
	runCmd.Flags().StringVar(&recordPath, "record", "", "SQLite file receiving per-step sector values")
	runCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Directory for initial-state checkpoints")

	// Federation
	runCmd.Flags().StringVar(&rtiURL, "rti", "", `RTI websocket URL (ws://host:port/rti), or "local" for an in-process RTI; empty runs standalone`)
	runCmd.Flags().StringSliceVar(&owned, "owned", nil, "Comma-separated cities simulated by this federate (default: all)")
	runCmd.Flags().StringVar(&federateName, "federate", "", "Federate name (default: generated)")

	// Simulation overrides
	runCmd.Flags().IntVar(&startYear, "start-year", 0, "First simulated year")
	runCmd.Flags().IntVar(&endYear, "end-year", 0, "Year at which the simulation stops")
	runCmd.Flags().IntVar(&iterations, "iterations", 1, "Steps per simulated year")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for recharge variability")
	runCmd.Flags().Float64Var(&variability, "recharge-variability", 0, "Amplitude of reservoir recharge variability in [0, 1]")
	runCmd.Flags().BoolVar(&parallelTock, "parallel-tock", false, "Commit the root's child subtrees concurrently")
	runCmd.Flags().BoolVar(&noOptimize, "no-optimize", false, "Disable the flow optimizer")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
