package executor

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

// echoCommand returns a platform-appropriate command that prints "test".
func echoCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd.exe", []string{"/c", "echo", "test"}
	}
	return "echo", []string{"test"}
}

// sleepCommand returns a platform-appropriate command that blocks for ten seconds.
func sleepCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd.exe", []string{"/c", "timeout", "10"}
	}
	return "sleep", []string{"10"}
}

func TestRunCommandWithOutputCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	name, args := sleepCommand()
	if _, err := RunCommandWithOutput(ctx, name, args, ""); err == nil {
		t.Error("RunCommandWithOutput() with canceled context should fail")
	}
}

func TestRunCommandWithOutputDir(t *testing.T) {
	name, args := echoCommand()
	if _, err := RunCommandWithOutput(context.Background(), name, args, t.TempDir()); err != nil {
		t.Errorf("RunCommandWithOutput() in temp dir error = %v, want nil", err)
	}
}

func TestRunCommandWithOutput(t *testing.T) {
	name, args := echoCommand()
	out, err := RunCommandWithOutput(context.Background(), name, args, "")
	if err != nil {
		t.Fatalf("RunCommandWithOutput() error = %v, want nil", err)
	}
	if !strings.Contains(strings.TrimSpace(string(out)), "test") {
		t.Errorf("RunCommandWithOutput() output = %q, want to contain %q", out, "test")
	}
}

func TestOSRunnerOutput(t *testing.T) {
	name, args := echoCommand()
	out, err := OSRunner{}.Output(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("Output() error = %v, want nil", err)
	}
	if !strings.Contains(string(out), "test") {
		t.Errorf("Output() = %q, want to contain %q", out, "test")
	}
}

func TestOSRunnerAppliesTimeout(t *testing.T) {
	name, args := sleepCommand()
	start := time.Now()
	_, err := OSRunner{Timeout: 100 * time.Millisecond}.Output(context.Background(), name, args...)
	if err == nil {
		t.Fatal("Output() should fail once the runner timeout elapses")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Output() took %v, timeout was not applied", elapsed)
	}
}

func TestIsNotExecuted(t *testing.T) {
	_, err := RunCommandWithOutput(context.Background(), "nonexistent-command-xyz-123", nil, "")
	if !IsNotExecuted(err) {
		t.Errorf("IsNotExecuted(missing binary) = false, want true (err=%v)", err)
	}

	if IsNotExecuted(nil) {
		t.Error("IsNotExecuted(nil) = true, want false")
	}

	if runtime.GOOS == "windows" {
		return
	}
	_, err = RunCommandWithOutput(context.Background(), "sh", []string{"-c", "exit 3"}, "")
	if err == nil {
		t.Fatal("expected non-zero exit error")
	}
	if IsNotExecuted(err) {
		t.Errorf("IsNotExecuted(exit status 3) = true, want false")
	}
}
