package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Inspect and validate run configurations",
	Long:  "Print the built-in sample scenario or check a configuration file against the schema and the society model. Output is written to stdout for piping.",
}

// --- sipg scenario sample ---

var scenarioSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print the built-in sample scenario",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(string(sampleScenario))
	},
}

// --- sipg scenario validate ---

var scenarioPath string

var scenarioValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a run configuration and print it normalized",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(scenarioPath)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		root, err := buildSocieties(cfg.Societies)
		if err != nil {
			logrus.Fatalf("Invalid scenario: %v", err)
		}
		logrus.Infof("%s: %d cities", root.Name(), len(root.Cities()))
		writeConfigToStdout(cfg)
	},
}

// writeConfigToStdout marshals a FileConfig to YAML and writes to stdout.
func writeConfigToStdout(cfg *FileConfig) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		logrus.Fatalf("YAML marshal failed: %v", err)
	}
	if _, err := os.Stdout.Write(data); err != nil {
		logrus.Fatalf("write: %v", err)
	}
}

func init() {
	scenarioValidateCmd.Flags().StringVar(&scenarioPath, "config", "", "Path to the YAML run configuration")
	_ = scenarioValidateCmd.MarkFlagRequired("config")

	scenarioCmd.AddCommand(scenarioSampleCmd)
	scenarioCmd.AddCommand(scenarioValidateCmd)

	rootCmd.AddCommand(scenarioCmd)
}
