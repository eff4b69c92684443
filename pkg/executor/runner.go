package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ErrEmptyCode is returned when a request carries no code to run
var ErrEmptyCode = errors.New("code must be a non-empty string")

// DefaultInterpreter runs node scripts unless configured otherwise
const DefaultInterpreter = "python3"

// Request is a single node execution: the script source plus the data it
// sees as prev (previous node result), params and payload.
type Request struct {
	Code           string                 `json:"code"`
	Prev           interface{}            `json:"prev,omitempty"`
	Params         map[string]interface{} `json:"params,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty"`
}

// Response is the execution outcome. Stdout holds decoded JSON when the
// script printed valid JSON, the raw text otherwise.
type Response struct {
	OK             bool        `json:"ok"`
	ReturnCode     *int        `json:"returncode,omitempty"`
	Stdout         interface{} `json:"stdout"`
	Stderr         string      `json:"stderr"`
	Error          string      `json:"error,omitempty"`
	TimeoutSeconds int         `json:"timeout_seconds,omitempty"`
}

// Runner executes untrusted node scripts in a child interpreter process
// with CPU, memory and wall-clock bounds.
type Runner struct {
	Interpreter string
	Limits      Limits
}

// NewRunner creates a runner with the given interpreter (empty means the
// default) and limits.
func NewRunner(interpreter string, limits Limits) *Runner {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	return &Runner{Interpreter: interpreter, Limits: limits}
}

// jsonLiteral renders v as a source literal the script can json.loads: the
// value is JSON-encoded, then encoded again so it arrives as a string literal.
func jsonLiteral(v interface{}) (string, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	outer, err := json.Marshal(string(inner))
	if err != nil {
		return "", err
	}
	return string(outer), nil
}

// buildScript wraps user code with a prelude that binds prev, params and
// payload before the first user line runs.
func buildScript(req Request) (string, error) {
	prev, err := jsonLiteral(req.Prev)
	if err != nil {
		return "", fmt.Errorf("failed to encode prev: %w", err)
	}
	params, err := jsonLiteral(req.Params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	payload, err := jsonLiteral(req.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	var b strings.Builder
	b.WriteString("import json\n")
	fmt.Fprintf(&b, "prev = json.loads(%s)\n", prev)
	fmt.Fprintf(&b, "params = json.loads(%s)\n", params)
	fmt.Fprintf(&b, "payload = json.loads(%s)\n", payload)
	b.WriteString(req.Code)
	b.WriteString("\n")
	return b.String(), nil
}

// Run executes a single request and always returns a response envelope;
// the error return is reserved for request construction failures.
func (r *Runner) Run(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrEmptyCode
	}

	script, err := buildScript(req)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "node-*.py")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp script: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(script); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp script: %w", err)
	}

	timeout := r.Limits.TimeoutSeconds
	if req.TimeoutSeconds > 0 {
		timeout = req.TimeoutSeconds
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Interpreter, tmp.Name())

	// Own process group so a timeout kill takes grandchildren with it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start interpreter: %w", err)
	}

	// Best effort: execution proceeds unrestricted if the kernel refuses
	if err := applyRlimits(cmd.Process.Pid, r.Limits); err != nil {
		log.Printf("Warning: failed to apply resource limits: %v", err)
	}

	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return &Response{
			OK:             false,
			Error:          "timeout",
			TimeoutSeconds: timeout,
			Stdout:         stdout.String(),
			Stderr:         stderr.String(),
		}, nil
	}

	rc := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			rc = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("interpreter wait failed: %w", waitErr)
		}
	}

	return &Response{
		OK:         rc == 0,
		ReturnCode: &rc,
		Stdout:     decodeStdout(stdout.String()),
		Stderr:     stderr.String(),
	}, nil
}

// decodeStdout returns parsed JSON when the script printed a valid JSON
// document, the raw text otherwise.
func decodeStdout(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded
	}
	return raw
}
