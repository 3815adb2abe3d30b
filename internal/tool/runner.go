package tool

import (
	"bytes"
	"context"
	"os/exec"
)

// Result captures the output of a finished subprocess.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts external-tool execution so that extraction and
// post-processing can be tested without the binaries installed.
type Runner interface {
	// LookPath reports whether the named binary can be resolved.
	LookPath(name string) error
	// Run executes the tool in dir (empty means inherit) and waits for it.
	// A non-zero exit status is not an error; it shows up in Result.ExitCode.
	// The error return is reserved for failures to start or to finish.
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct{}

func (ExecRunner) LookPath(name string) error {
	_, err := exec.LookPath(name)
	return err
}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}
