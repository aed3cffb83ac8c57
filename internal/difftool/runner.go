package difftool

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Runner is the interface the sync orchestrator uses to reach the diff
// tool. The two entry points mirror the tool's: Diff returns only keys
// whose values differ between branches, AllData returns every key. A key
// absent from Diff output may simply no longer differ, which is why the
// reconciler needs AllData for its missing-key second pass.
type Runner interface {
	// Diff fetches difference records for the spec. When twoVsTwo is set
	// the tool's 2-way-vs-2-way entry point is used.
	Diff(ctx context.Context, spec BranchModelsSpec, twoVsTwo bool) (*Result, error)

	// AllData fetches full-value records for the spec.
	AllData(ctx context.Context, spec BranchModelsSpec) (*Result, error)
}

// ScriptRunner invokes the Python diff script as a subprocess. The spec
// travels as a single JSON argument; stdout is drained completely before
// parsing. Cancellation of ctx terminates the subprocess, which is how
// the orchestrator enforces its sync timeout.
type ScriptRunner struct {
	// Python is the interpreter binary, e.g. "python3".
	Python string

	// Script is the path to the diff script.
	Script string

	Logger *log.Logger
}

// NewScriptRunner creates a runner for the given interpreter and script.
// If logger is nil, a default logger writing to stderr is used.
func NewScriptRunner(python, script string, logger *log.Logger) *ScriptRunner {
	if logger == nil {
		logger = log.New(os.Stderr, "[difftool] ", log.LstdFlags)
	}
	return &ScriptRunner{Python: python, Script: script, Logger: logger}
}

// Diff implements Runner.Diff.
func (r *ScriptRunner) Diff(ctx context.Context, spec BranchModelsSpec, twoVsTwo bool) (*Result, error) {
	fn := FuncDiff
	if twoVsTwo {
		fn = FuncDiffTwoVsTwo
	}
	return r.invoke(ctx, fn, spec)
}

// AllData implements Runner.AllData.
func (r *ScriptRunner) AllData(ctx context.Context, spec BranchModelsSpec) (*Result, error) {
	return r.invoke(ctx, FuncAllData, spec)
}

// invoke spawns the subprocess and parses its full stdout. A non-zero
// exit or a spawn failure is fatal for the attempt.
func (r *ScriptRunner) invoke(ctx context.Context, fn string, spec BranchModelsSpec) (*Result, error) {
	arg, err := spec.Encode()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, r.Python, r.Script, fn, arg)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Printf("Invoking %s %s (%d combinations)", r.Script, fn, spec.ComboCount())

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("diff tool %s cancelled: %w", fn, ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("diff tool %s failed: %w\n%s", fn, err, msg)
		}
		return nil, fmt.Errorf("diff tool %s failed: %w", fn, err)
	}

	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		r.Logger.Printf("Tool stderr: %s", msg)
	}

	result, err := Parse(stdout.Bytes(), r.Logger)
	if err != nil {
		return nil, fmt.Errorf("diff tool %s output: %w", fn, err)
	}

	r.Logger.Printf("Tool %s returned %d blocks", fn, result.Count)
	return result, nil
}
