package tool

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	var r ExecRunner
	res, err := r.Run(context.Background(), "", "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	var r ExecRunner
	res, err := r.Run(context.Background(), "", "sh", "-c", "exit 3")
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunMissingBinary(t *testing.T) {
	var r ExecRunner
	if _, err := r.Run(context.Background(), "", "definitely-not-a-real-tool"); err == nil {
		t.Error("starting a missing binary should error")
	}
}

func TestRunHonorsContext(t *testing.T) {
	var r ExecRunner
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := r.Run(ctx, "", "sh", "-c", "sleep 10")
	if err == nil && res.ExitCode == 0 {
		t.Error("timed-out command should not report success")
	}
}

func TestLookPath(t *testing.T) {
	var r ExecRunner
	if err := r.LookPath("sh"); err != nil {
		t.Errorf("sh should be resolvable: %v", err)
	}
	if err := r.LookPath("definitely-not-a-real-tool"); err == nil {
		t.Error("missing binary should not resolve")
	}
}
