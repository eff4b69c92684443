package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// workersCmd represents the workers command
var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Manage workers",
	Long:  `Commands for listing and removing registered workers.`,
}

var workersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workers",
	RunE:  runWorkersList,
}

var workersShowCmd = &cobra.Command{
	Use:   "show <worker-id>",
	Short: "Show worker details",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkersShow,
}

var workersRemoveCmd = &cobra.Command{
	Use:   "remove <worker-id>",
	Short: "Remove a worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkersRemove,
}

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.AddCommand(workersListCmd)
	workersCmd.AddCommand(workersShowCmd)
	workersCmd.AddCommand(workersRemoveCmd)
}

type workerInfo struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	CPUThreads    int               `json:"cpu_threads"`
	CPUModel      string            `json:"cpu_model"`
	RAMTotalBytes uint64            `json:"ram_total_bytes"`
	Interpreter   string            `json:"interpreter,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Status        string            `json:"status"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	CurrentRunID  string            `json:"current_run_id,omitempty"`
}

type workersListResponse struct {
	Workers []workerInfo `json:"workers"`
	Count   int          `json:"count"`
}

func runWorkersList(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/workers")
	if err != nil {
		return err
	}

	var result workersListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Worker ID", "Name", "Status", "Threads", "RAM", "Current Run", "Last Heartbeat")

	for _, w := range result.Workers {
		currentRun := w.CurrentRunID
		if currentRun == "" {
			currentRun = "-"
		}
		table.Append(w.ID, w.Name, w.Status,
			fmt.Sprintf("%d", w.CPUThreads),
			fmt.Sprintf("%.1f GB", float64(w.RAMTotalBytes)/(1024*1024*1024)),
			currentRun, w.LastHeartbeat.Format(time.RFC3339))
	}
	table.Render()
	fmt.Printf("\nTotal: %d workers\n", result.Count)

	return nil
}

func runWorkersShow(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/workers/" + args[0])
	if err != nil {
		return err
	}

	var w workerInfo
	if err := json.Unmarshal(body, &w); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(w, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", w.ID)
	table.Append("Name", w.Name)
	table.Append("Status", w.Status)
	table.Append("CPU", fmt.Sprintf("%s (%d threads)", w.CPUModel, w.CPUThreads))
	table.Append("RAM", fmt.Sprintf("%.1f GB", float64(w.RAMTotalBytes)/(1024*1024*1024)))
	if w.Interpreter != "" {
		table.Append("Interpreter", w.Interpreter)
	}
	for k, v := range w.Labels {
		table.Append("Label: "+k, v)
	}
	table.Append("Last Heartbeat", w.LastHeartbeat.Format(time.RFC3339))
	table.Render()

	return nil
}

func runWorkersRemove(cmd *cobra.Command, args []string) error {
	workerID := args[0]

	httpReq, err := NewRequest("DELETE", GetEngineURL()+"/workers/"+workerID, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	fmt.Printf("Worker %s removed\n", workerID)
	return nil
}
