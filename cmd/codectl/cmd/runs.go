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

var followStatus bool

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage pipeline runs",
	Long:  `Commands for inspecting, canceling and retrying pipeline runs.`,
}

var runsStatusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Get run status",
	Long:  `Retrieve the status of a run by its ID or sequence number. If no ID is provided, lists all runs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRunsStatus,
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsCancel,
}

var runsRetryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Retry a failed run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsRetry,
}

var runsLogsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Get logs for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsLogs,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsStatusCmd)
	runsCmd.AddCommand(runsCancelCmd)
	runsCmd.AddCommand(runsRetryCmd)
	runsCmd.AddCommand(runsLogsCmd)

	runsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll run status every 2 seconds until completion")
}

type nodeResult struct {
	NodeID   string          `json:"node_id"`
	Logic    string          `json:"logic"`
	OK       bool            `json:"ok"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration float64         `json:"duration_seconds,omitempty"`
}

type runInfo struct {
	ID             string       `json:"id"`
	SequenceNumber int          `json:"sequence_number,omitempty"`
	TriggerID      string       `json:"trigger_id"`
	FlowID         string       `json:"flow_id"`
	TriggerType    string       `json:"trigger_type"`
	Status         string       `json:"status"`
	Queue          string       `json:"queue,omitempty"`
	Priority       string       `json:"priority,omitempty"`
	WorkerID       string       `json:"worker_id,omitempty"`
	WorkerName     string       `json:"worker_name,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	RetryCount     int          `json:"retry_count"`
	Error          string       `json:"error,omitempty"`
	NodeResults    []nodeResult `json:"node_results,omitempty"`
}

type runsListResponse struct {
	Runs  []runInfo `json:"runs"`
	Count int       `json:"count"`
}

func runRunsStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listAllRuns()
	}

	runID := args[0]

	if followStatus {
		fmt.Printf("Following run %s (press Ctrl+C to stop)...\n\n", runID)
		for {
			result, err := fetchRunStatus(runID)
			if err != nil {
				return err
			}

			fmt.Print("\033[H\033[2J")
			displayRunStatus(result)

			if result.Status == "completed" || result.Status == "failed" || result.Status == "canceled" {
				fmt.Println("\nRun reached terminal state")
				break
			}

			time.Sleep(2 * time.Second)
		}
		return nil
	}

	result, err := fetchRunStatus(runID)
	if err != nil {
		return err
	}
	displayRunStatus(result)
	return nil
}

func fetchRunStatus(runID string) (*runInfo, error) {
	body, err := apiGet("/runs/" + runID)
	if err != nil {
		return nil, err
	}

	var result runInfo
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func displayRunStatus(run *runInfo) {
	if IsJSONOutput() {
		output, _ := json.MarshalIndent(run, "", "  ")
		fmt.Println(string(output))
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Run #", fmt.Sprintf("%d", run.SequenceNumber))
	table.Append("ID", run.ID)
	table.Append("Flow", run.FlowID)
	table.Append("Trigger", run.TriggerType)
	table.Append("Status", run.Status)
	if run.Queue != "" {
		table.Append("Queue", run.Queue)
	}
	if run.WorkerName != "" {
		table.Append("Worker", run.WorkerName)
	}
	table.Append("Retries", fmt.Sprintf("%d", run.RetryCount))
	table.Append("Created At", run.CreatedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		table.Append("Completed At", run.CompletedAt.Format(time.RFC3339))
	}
	if run.Error != "" {
		table.Append("Error", run.Error)
	}
	table.Render()

	if len(run.NodeResults) > 0 {
		fmt.Println("\nNode results:")
		nodesTable := tablewriter.NewWriter(os.Stdout)
		nodesTable.Header("Node", "Logic", "OK", "Duration", "Error")
		for _, nr := range run.NodeResults {
			nodesTable.Append(nr.NodeID, nr.Logic, fmt.Sprintf("%v", nr.OK),
				fmt.Sprintf("%.1fs", nr.Duration), nr.Error)
		}
		nodesTable.Render()
	}
}

func listAllRuns() error {
	body, err := apiGet("/runs")
	if err != nil {
		return err
	}

	var result runsListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run #", "Flow", "Trigger", "Status", "Worker", "Retries", "Created")

	for _, run := range result.Runs {
		worker := run.WorkerName
		if worker == "" {
			worker = "-"
		}
		table.Append(fmt.Sprintf("%d", run.SequenceNumber), run.FlowID, run.TriggerType,
			run.Status, worker, fmt.Sprintf("%d", run.RetryCount),
			run.CreatedAt.Format(time.RFC3339))
	}
	table.Render()
	fmt.Printf("\nTotal: %d runs\n", result.Count)

	return nil
}

func postRunAction(runID, action string) error {
	url := fmt.Sprintf("%s/runs/%s/%s", GetEngineURL(), runID, action)

	httpReq, err := NewRequest("POST", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	fmt.Printf("Run %s: %s requested\n", runID, action)
	return nil
}

func runRunsCancel(cmd *cobra.Command, args []string) error {
	return postRunAction(args[0], "cancel")
}

func runRunsRetry(cmd *cobra.Command, args []string) error {
	return postRunAction(args[0], "retry")
}

func runRunsLogs(cmd *cobra.Command, args []string) error {
	body, err := apiGet(fmt.Sprintf("/runs/%s/logs", args[0]))
	if err != nil {
		return err
	}

	var result struct {
		RunID string `json:"run_id"`
		Logs  string `json:"logs"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if result.Logs == "" && result.Error != "" {
		fmt.Printf("No logs available. Error: %s\n", result.Error)
		return nil
	}
	fmt.Print(result.Logs)
	if result.Logs != "" && result.Logs[len(result.Logs)-1] != '\n' {
		fmt.Println()
	}
	return nil
}
