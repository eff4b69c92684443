package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DrSui/code-engine/pkg/executor"
	"github.com/DrSui/code-engine/pkg/models"
)

// fakeRunner records requests and replays scripted responses keyed by code
type fakeRunner struct {
	requests  []executor.Request
	responses map[string]*executor.Response
	err       error
}

func (f *fakeRunner) Run(ctx context.Context, req executor.Request) (*executor.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.responses[req.Code]; ok {
		return resp, nil
	}
	rc := 0
	return &executor.Response{OK: true, ReturnCode: &rc, Stdout: "done"}, nil
}

func writeScriptsDir(t *testing.T, mapping string, scripts map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if mapping != "" {
		if err := os.WriteFile(filepath.Join(dir, MappingFilename), []byte(mapping), 0644); err != nil {
			t.Fatalf("Failed to write mapping: %v", err)
		}
	}
	for name, content := range scripts {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write script %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMappingMissingFile(t *testing.T) {
	m := LoadMapping(t.TempDir())
	if m.Len() != 0 {
		t.Errorf("Expected empty mapping for missing file, got %d entries", m.Len())
	}
	if _, err := m.Resolve("anything"); err == nil {
		t.Error("Expected error resolving against empty mapping")
	}
}

func TestLoadMappingMalformedFile(t *testing.T) {
	dir := writeScriptsDir(t, `{not json`, nil)
	m := LoadMapping(dir)
	if m.Len() != 0 {
		t.Errorf("Expected malformed mapping treated as empty, got %d entries", m.Len())
	}
}

func TestResolveBlocksTraversal(t *testing.T) {
	// The mapping points outside the scripts dir; only the basename is used
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.py"), []byte("print('secret')"), 0644); err != nil {
		t.Fatalf("Failed to write outside file: %v", err)
	}

	dir := writeScriptsDir(t,
		`{"sneaky": "../`+filepath.Base(outside)+`/secret.py", "ok": "safe.py"}`,
		map[string]string{"safe.py": "print('safe')"},
	)
	m := LoadMapping(dir)

	// Basename "secret.py" does not exist inside the scripts dir
	if _, err := m.Resolve("sneaky"); err == nil {
		t.Error("Expected traversal entry to fail resolution")
	}

	code, err := m.Resolve("ok")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if code != "print('safe')" {
		t.Errorf("Unexpected script content: %q", code)
	}
}

func TestPipelineExecutesNodesSequentially(t *testing.T) {
	dir := writeScriptsDir(t,
		`{"first": "first.py", "second": "second.py"}`,
		map[string]string{"first.py": "CODE1", "second.py": "CODE2"},
	)

	rc := 0
	runner := &fakeRunner{responses: map[string]*executor.Response{
		"CODE1": {OK: true, ReturnCode: &rc, Stdout: map[string]interface{}{"step": float64(1)}},
		"CODE2": {OK: true, ReturnCode: &rc, Stdout: "plain text"},
	}}
	pipeline := NewPipeline(runner, dir)

	run := &models.Run{
		ID: "r1",
		Nodes: []models.PipelineNode{
			{ID: "n1", Logic: "first", Params: map[string]interface{}{"a": float64(1)}},
			{ID: "n2", Logic: "second"},
		},
		Payload: map[string]interface{}{"user": "alice"},
	}

	results := pipeline.Execute(context.Background(), run)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	for i, r := range results {
		if !r.OK {
			t.Errorf("Expected node %d ok, got %+v", i, r)
		}
	}

	if len(runner.requests) != 2 {
		t.Fatalf("Expected 2 executor calls, got %d", len(runner.requests))
	}

	// First node has no prev, second node sees the first node's output
	if runner.requests[0].Prev != nil {
		t.Errorf("Expected nil prev for first node, got %v", runner.requests[0].Prev)
	}
	prev, ok := runner.requests[1].Prev.(map[string]interface{})
	if !ok || prev["step"] != float64(1) {
		t.Errorf("Expected first node output as prev, got %v", runner.requests[1].Prev)
	}

	// Params and payload travel with each node
	if runner.requests[0].Params["a"] != float64(1) {
		t.Errorf("Expected node params passed through, got %v", runner.requests[0].Params)
	}
	if runner.requests[0].Payload["user"] != "alice" {
		t.Errorf("Expected run payload passed through, got %v", runner.requests[0].Payload)
	}
}

func TestPipelineMissingMappingFailsNodeNotRun(t *testing.T) {
	dir := writeScriptsDir(t,
		`{"known": "known.py"}`,
		map[string]string{"known.py": "KNOWN"},
	)
	runner := &fakeRunner{}
	pipeline := NewPipeline(runner, dir)

	run := &models.Run{
		ID: "r1",
		Nodes: []models.PipelineNode{
			{ID: "n1", Logic: "unknown"},
			{ID: "n2", Logic: "known"},
		},
	}

	results := pipeline.Execute(context.Background(), run)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].OK {
		t.Error("Expected first node to fail without a mapping")
	}
	if results[0].Error == "" {
		t.Error("Expected error message for unmapped logic")
	}
	// Execution continues past the failed node
	if !results[1].OK {
		t.Errorf("Expected second node to run, got %+v", results[1])
	}
	if len(runner.requests) != 1 {
		t.Errorf("Expected only the mapped node to reach the executor, got %d calls", len(runner.requests))
	}
}

func TestPipelineExecutorTransportError(t *testing.T) {
	dir := writeScriptsDir(t,
		`{"node": "node.py"}`,
		map[string]string{"node.py": "CODE"},
	)
	runner := &fakeRunner{err: errors.New("executor unreachable")}
	pipeline := NewPipeline(runner, dir)

	run := &models.Run{
		ID:    "r1",
		Nodes: []models.PipelineNode{{ID: "n1", Logic: "node"}},
	}

	results := pipeline.Execute(context.Background(), run)
	if len(results) != 1 || results[0].OK {
		t.Fatalf("Expected failed node result, got %+v", results)
	}
	if results[0].Error != "executor unreachable" {
		t.Errorf("Expected transport error recorded, got %q", results[0].Error)
	}
}

func TestPipelineNodeResultSerialization(t *testing.T) {
	dir := writeScriptsDir(t,
		`{"node": "node.py"}`,
		map[string]string{"node.py": "CODE"},
	)
	rc := 0
	runner := &fakeRunner{responses: map[string]*executor.Response{
		"CODE": {OK: true, ReturnCode: &rc, Stdout: map[string]interface{}{"answer": float64(42)}},
	}}
	pipeline := NewPipeline(runner, dir)

	run := &models.Run{ID: "r1", Nodes: []models.PipelineNode{{ID: "n1", Logic: "node"}}}
	results := pipeline.Execute(context.Background(), run)

	var decoded map[string]interface{}
	if err := json.Unmarshal(results[0].Result, &decoded); err != nil {
		t.Fatalf("Failed to decode stored result: %v", err)
	}
	if decoded["answer"] != float64(42) {
		t.Errorf("Expected answer 42, got %v", decoded["answer"])
	}
}
