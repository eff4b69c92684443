package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	// Trigger register flags
	triggerFlow     string
	triggerType     string
	triggerInterval int
	nodesFile       string
)

// triggersCmd represents the triggers command
var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Manage triggers",
	Long:  `Commands for registering, listing and removing pipeline triggers.`,
}

var triggersRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new trigger",
	Long:  `Register a webhook or interval trigger with its pipeline nodes.`,
	RunE:  runTriggersRegister,
}

var triggersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered triggers",
	RunE:  runTriggersList,
}

var triggersDeleteCmd = &cobra.Command{
	Use:   "delete <trigger-id>",
	Short: "Delete a trigger",
	Args:  cobra.ExactArgs(1),
	RunE:  runTriggersDelete,
}

func init() {
	rootCmd.AddCommand(triggersCmd)
	triggersCmd.AddCommand(triggersRegisterCmd)
	triggersCmd.AddCommand(triggersListCmd)
	triggersCmd.AddCommand(triggersDeleteCmd)

	triggersRegisterCmd.Flags().StringVar(&triggerFlow, "flow", "", "flow ID (required)")
	triggersRegisterCmd.Flags().StringVar(&triggerType, "type", "webhook", "trigger type (webhook or interval)")
	triggersRegisterCmd.Flags().IntVar(&triggerInterval, "interval", 0, "interval in seconds (required for interval triggers)")
	triggersRegisterCmd.Flags().StringVar(&nodesFile, "nodes-file", "", "JSON file with the pipeline nodes (required)")
	triggersRegisterCmd.MarkFlagRequired("flow")
	triggersRegisterCmd.MarkFlagRequired("nodes-file")
}

type pipelineNode struct {
	ID     string                 `json:"id"`
	Logic  string                 `json:"logic"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type triggerRegistration struct {
	FlowID  string `json:"flow_id"`
	Trigger struct {
		Type     string `json:"type"`
		Schedule *struct {
			Mode            string `json:"mode"`
			IntervalSeconds int    `json:"interval_seconds"`
		} `json:"schedule,omitempty"`
	} `json:"trigger"`
	Nodes []pipelineNode `json:"nodes"`
}

type triggerInfo struct {
	ID              string         `json:"id"`
	FlowID          string         `json:"flow_id"`
	Type            string         `json:"type"`
	IntervalSeconds int            `json:"interval_seconds,omitempty"`
	Nodes           []pipelineNode `json:"nodes"`
	CreatedAt       time.Time      `json:"created_at"`
}

type triggersListResponse struct {
	Triggers []triggerInfo `json:"triggers"`
	Count    int           `json:"count"`
}

func runTriggersRegister(cmd *cobra.Command, args []string) error {
	nodesData, err := os.ReadFile(nodesFile)
	if err != nil {
		return fmt.Errorf("failed to read nodes file: %w", err)
	}

	var nodes []pipelineNode
	if err := json.Unmarshal(nodesData, &nodes); err != nil {
		return fmt.Errorf("failed to parse nodes file: %w", err)
	}

	reg := triggerRegistration{FlowID: triggerFlow, Nodes: nodes}
	reg.Trigger.Type = triggerType
	if triggerType == "interval" {
		reg.Trigger.Schedule = &struct {
			Mode            string `json:"mode"`
			IntervalSeconds int    `json:"interval_seconds"`
		}{Mode: "interval", IntervalSeconds: triggerInterval}
	}

	reqBody, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := NewRequest("POST", GetEngineURL()+"/triggers", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Trigger ID", fmt.Sprintf("%v", result["trigger_id"]))
	table.Append("Flow", triggerFlow)
	table.Append("Type", triggerType)
	if url, ok := result["webhook_url"]; ok {
		table.Append("Webhook URL", fmt.Sprintf("%v", url))
	}
	if secs, ok := result["interval_seconds"]; ok {
		table.Append("Interval", fmt.Sprintf("%vs", secs))
	}
	table.Render()

	return nil
}

func runTriggersList(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/triggers")
	if err != nil {
		return err
	}

	var result triggersListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Trigger ID", "Flow", "Type", "Interval", "Nodes", "Created")

	for _, t := range result.Triggers {
		interval := "-"
		if t.IntervalSeconds > 0 {
			interval = fmt.Sprintf("%ds", t.IntervalSeconds)
		}
		table.Append(t.ID, t.FlowID, t.Type, interval,
			fmt.Sprintf("%d", len(t.Nodes)), t.CreatedAt.Format(time.RFC3339))
	}
	table.Render()
	fmt.Printf("\nTotal: %d triggers\n", result.Count)

	return nil
}

func runTriggersDelete(cmd *cobra.Command, args []string) error {
	triggerID := args[0]

	httpReq, err := NewRequest("DELETE", fmt.Sprintf("%s/triggers/%s", GetEngineURL(), triggerID), nil)
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

	fmt.Printf("Trigger %s deleted\n", triggerID)
	return nil
}
