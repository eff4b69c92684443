package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/DrSui/code-engine/pkg/executor"
	"github.com/DrSui/code-engine/pkg/models"
)

// CodeRunner executes one node script. Satisfied by the in-process
// executor.Runner and by client.ExecutorClient.
type CodeRunner interface {
	Run(ctx context.Context, req executor.Request) (*executor.Response, error)
}

// Pipeline executes the nodes of a run sequentially
type Pipeline struct {
	runner     CodeRunner
	scriptsDir string
}

// NewPipeline creates a pipeline executor over a scripts directory
func NewPipeline(runner CodeRunner, scriptsDir string) *Pipeline {
	return &Pipeline{runner: runner, scriptsDir: scriptsDir}
}

// Execute runs every node of the run in order. A failing node yields a
// failed NodeResult and execution continues with the next node; only the
// per-node outcomes decide the overall run status.
func (p *Pipeline) Execute(ctx context.Context, run *models.Run) []models.NodeResult {
	mapping := LoadMapping(p.scriptsDir)

	results := make([]models.NodeResult, 0, len(run.Nodes))
	var prev interface{}

	for _, node := range run.Nodes {
		start := time.Now()
		result := p.executeNode(ctx, mapping, node, prev, run)
		result.Duration = time.Since(start).Seconds()
		results = append(results, result)

		if result.OK {
			// Next node sees this node's decoded output as prev
			var decoded interface{}
			if len(result.Result) > 0 {
				if err := json.Unmarshal(result.Result, &decoded); err == nil {
					prev = decoded
				}
			}
		}
	}
	return results
}

func (p *Pipeline) executeNode(ctx context.Context, mapping *Mapping, node models.PipelineNode, prev interface{}, run *models.Run) models.NodeResult {
	result := models.NodeResult{NodeID: node.ID, Logic: node.Logic}

	code, err := mapping.Resolve(node.Logic)
	if err != nil {
		log.Printf("Run %s node %s: %v", run.ID, node.ID, err)
		result.Error = err.Error()
		return result
	}

	resp, err := p.runner.Run(ctx, executor.Request{
		Code:           code,
		Prev:           prev,
		Params:         node.Params,
		Payload:        run.Payload,
		TimeoutSeconds: run.TimeoutSeconds,
	})
	if err != nil {
		log.Printf("Run %s node %s: executor failed: %v", run.ID, node.ID, err)
		result.Error = err.Error()
		return result
	}

	result.OK = resp.OK
	result.Error = resp.Error
	result.Stderr = resp.Stderr
	if raw, err := json.Marshal(resp.Stdout); err == nil {
		result.Result = raw
	}
	if s, ok := resp.Stdout.(string); ok {
		result.Stdout = s
	}
	return result
}
