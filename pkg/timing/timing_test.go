package timing

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun_Success(t *testing.T) {
	result := Run(context.Background(), "echo", []string{"hello"}, nil)

	if result == nil {
		t.Fatal("Run returned nil")
	}

	if result.Error != nil {
		t.Errorf("Run failed: %v", result.Error)
	}

	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}

	if !result.Started {
		t.Error("Started should be true")
	}

	if result.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}

	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", result.Stdout)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	result := Run(context.Background(), "sh", []string{"-c", "exit 42"}, nil)

	if result.ExitCode != 42 {
		t.Errorf("ExitCode = %d, want 42", result.ExitCode)
	}

	if !result.Started {
		t.Error("Started should be true for a command that ran and failed")
	}

	if result.DurationMs < 0 {
		t.Errorf("DurationMs = %d, should not be negative even for failed commands", result.DurationMs)
	}

	if result.Success() {
		t.Error("Success() should be false")
	}

	if err := result.Err(); err == nil || !strings.Contains(err.Error(), "code 42") {
		t.Errorf("Err() = %v, want exit code 42", err)
	}
}

func TestRun_NonexistentCommand(t *testing.T) {
	result := Run(context.Background(), "nonexistent_command_xyz", []string{}, nil)

	if result.Error == nil {
		t.Error("Expected error for nonexistent command")
	}

	if result.Started {
		t.Error("Started should be false when the process cannot be spawned")
	}

	if result.DurationMs != 0 {
		t.Errorf("DurationMs = %d, want 0 for a command that never ran", result.DurationMs)
	}

	if err := result.Err(); err == nil || !strings.Contains(err.Error(), "could not run") {
		t.Errorf("Err() = %v, want could not run", err)
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	result := Run(context.Background(), "", nil, nil)

	if result.Error == nil {
		t.Error("Expected error for empty command")
	}
	if result.Started {
		t.Error("Started should be false")
	}
}

func TestRun_StderrCapture(t *testing.T) {
	result := Run(context.Background(), "sh", []string{"-c", "echo error_message >&2"}, nil)

	if result.Error != nil {
		t.Fatalf("Run failed unexpectedly: %v", result.Error)
	}

	if !strings.Contains(result.Stderr, "error_message") {
		t.Errorf("Stderr = %q, want error_message", result.Stderr)
	}
}

func TestRun_Timing(t *testing.T) {
	result := Run(context.Background(), "sleep", []string{"0.1"}, nil)

	if result.Error != nil {
		t.Fatalf("Run failed: %v", result.Error)
	}

	if result.DurationMs < 100 {
		t.Errorf("DurationMs = %d, want >= 100", result.DurationMs)
	}

	if result.Elapsed() < 100*time.Millisecond {
		t.Errorf("Elapsed() = %v, want >= 100ms", result.Elapsed())
	}
}

func TestRun_Timeout(t *testing.T) {
	result := Run(context.Background(), "sleep", []string{"5"}, &Options{Timeout: 50 * time.Millisecond})

	if result.Success() {
		t.Fatal("expected timeout failure")
	}
	if !result.Started {
		t.Error("Started should be true, the process was killed after starting")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Run(ctx, "echo", []string{"x"}, nil)
	if result.Success() {
		t.Error("expected failure for cancelled context")
	}
}

func TestRun_WithWorkingDirectory(t *testing.T) {
	tempDir := t.TempDir()

	testFile := "test.txt"
	if err := os.WriteFile(filepath.Join(tempDir, testFile), []byte("content"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	result := Run(context.Background(), "ls", nil, &Options{Dir: tempDir})
	if result.Error != nil {
		t.Fatalf("Run failed: %v", result.Error)
	}

	if !strings.Contains(result.Stdout, testFile) {
		t.Errorf("Output doesn't contain %s: %s", testFile, result.Stdout)
	}
}

func TestRun_Env(t *testing.T) {
	result := Run(context.Background(), "sh", []string{"-c", "echo $MOON_HOME"},
		&Options{Env: []string{"MOON_HOME=/opt/moon"}})

	if got := strings.TrimSpace(result.Stdout); got != "/opt/moon" {
		t.Errorf("Stdout = %q, want /opt/moon", got)
	}
}

func TestRun_Passthrough(t *testing.T) {
	var buf bytes.Buffer
	result := Run(context.Background(), "echo", []string{"streamed"}, &Options{Passthrough: &buf})

	if !strings.Contains(buf.String(), "streamed") {
		t.Errorf("passthrough = %q, want streamed", buf.String())
	}
	if !strings.Contains(result.Stdout, "streamed") {
		t.Errorf("Stdout = %q, want streamed", result.Stdout)
	}
}

func TestResult_Text(t *testing.T) {
	r := &Result{Stdout: "  moon 0.1.20241231 \n"}
	text, err := r.Text()
	if err != nil {
		t.Fatalf("Text() error: %v", err)
	}
	if text != "moon 0.1.20241231" {
		t.Errorf("Text() = %q", text)
	}

	bad := &Result{Stdout: string([]byte{0xff, 0xfe})}
	if _, err := bad.Text(); !errors.Is(err, ErrNotUTF8) {
		t.Errorf("Text() error = %v, want ErrNotUTF8", err)
	}
}

func TestResult_String(t *testing.T) {
	r := &Result{Command: "moon", Args: []string{"check"}, ExitCode: 1, DurationMs: 1500, Started: true}
	got := r.String()
	if !strings.Contains(got, "failed (exit code 1)") || !strings.Contains(got, "1.500s") {
		t.Errorf("String() = %q", got)
	}
}
