package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	engineURL    string
	outputFormat string
	cfgFile      string
	apiKey       string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "codectl",
	Short: "CLI for the code pipeline engine",
	Long:  `codectl is a command line interface for managing triggers, runs and workers in the code pipeline engine.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.codectl/config)")
	rootCmd.PersistentFlags().StringVar(&engineURL, "engine", "", "engine API URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in the config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".codectl")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("api_key", "CODE_ENGINE_API_KEY")
	viper.BindEnv("engine_url", "CODE_ENGINE_URL")

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetString("engine_url") != "" && engineURL == "" {
			engineURL = viper.GetString("engine_url")
		}
	}

	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if engineURL == "" && viper.GetString("engine_url") != "" {
		engineURL = viper.GetString("engine_url")
	}
	if engineURL == "" {
		engineURL = "http://localhost:8080"
	}
}

// GetEngineURL returns the configured engine URL with trailing slashes removed
func GetEngineURL() string {
	return strings.TrimRight(engineURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the HTTP client used for API calls
func GetHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// NewRequest creates an HTTP request carrying the API key header when one
// is configured
func NewRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}

	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	return req, nil
}

// apiGet performs a GET against the engine and returns the response body
func apiGet(path string) ([]byte, error) {
	req, err := NewRequest("GET", GetEngineURL()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
