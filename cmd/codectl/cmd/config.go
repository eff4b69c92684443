package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DrSui/code-engine/pkg/worker"
)

var (
	configEnvironment string
	configFormat      string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management and recommendations",
	Long:  `Commands for generating worker configuration based on hardware capabilities.`,
}

var configRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Generate recommended worker configuration",
	Long: `Analyzes system hardware (CPU, RAM) and generates worker configuration
parameters tuned for the deployment environment.`,
	RunE: runConfigRecommend,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configRecommendCmd)

	configRecommendCmd.Flags().StringVarP(&configEnvironment, "environment", "e", "development",
		"Deployment environment: development, staging, production")
	configRecommendCmd.Flags().StringVarP(&configFormat, "format", "f", "text",
		"Output format: text, json, yaml")
}

type configRecommendation struct {
	Hardware        hardwareInfo `json:"hardware" yaml:"hardware"`
	Recommendations workerConfig `json:"recommendations" yaml:"recommendations"`
}

type hardwareInfo struct {
	CPUModel     string `json:"cpu_model" yaml:"cpu_model"`
	CPUThreads   int    `json:"cpu_threads" yaml:"cpu_threads"`
	RAMBytes     uint64 `json:"ram_bytes" yaml:"ram_bytes"`
	Interpreter  string `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	OS           string `json:"os" yaml:"os"`
	Architecture string `json:"architecture" yaml:"architecture"`
}

type workerConfig struct {
	MaxConcurrentRuns int    `json:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	PollInterval      string `json:"poll_interval" yaml:"poll_interval"`
	HeartbeatInterval string `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	MetricsPort       int    `json:"metrics_port" yaml:"metrics_port"`
}

func runConfigRecommend(cmd *cobra.Command, args []string) error {
	reg := worker.DetectHardware()

	hardware := hardwareInfo{
		CPUModel:     reg.CPUModel,
		CPUThreads:   reg.CPUThreads,
		RAMBytes:     reg.RAMTotalBytes,
		Interpreter:  reg.Interpreter,
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}

	// One run per two threads, capped harder outside development since
	// every run may fan out into interpreter subprocesses.
	maxRuns := hardware.CPUThreads / 2
	if maxRuns < 1 {
		maxRuns = 1
	}
	pollInterval := "2s"
	if configEnvironment == "production" {
		if maxRuns > 8 {
			maxRuns = 8
		}
		pollInterval = "5s"
	}

	rec := configRecommendation{
		Hardware: hardware,
		Recommendations: workerConfig{
			MaxConcurrentRuns: maxRuns,
			PollInterval:      pollInterval,
			HeartbeatInterval: "10s",
			MetricsPort:       9091,
		},
	}

	switch configFormat {
	case "json":
		output, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
	case "yaml":
		output, err := yaml.Marshal(rec)
		if err != nil {
			return err
		}
		fmt.Print(string(output))
	default:
		fmt.Printf("Hardware: %s (%d threads), %.1f GB RAM, %s/%s\n",
			hardware.CPUModel, hardware.CPUThreads,
			float64(hardware.RAMBytes)/(1024*1024*1024),
			hardware.OS, hardware.Architecture)
		if hardware.Interpreter != "" {
			fmt.Printf("Interpreter: %s\n", hardware.Interpreter)
		}
		fmt.Printf("\nRecommended flags (%s):\n", configEnvironment)
		fmt.Printf("  --max-concurrent=%d\n", rec.Recommendations.MaxConcurrentRuns)
		fmt.Printf("  --poll-interval=%s\n", rec.Recommendations.PollInterval)
		fmt.Printf("  --heartbeat-interval=%s\n", rec.Recommendations.HeartbeatInterval)
		fmt.Printf("  --metrics-port=%d\n", rec.Recommendations.MetricsPort)
	}

	return nil
}
