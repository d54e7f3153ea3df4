package timing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotUTF8 is returned by Result.Text when captured stdout is not valid UTF-8
var ErrNotUTF8 = errors.New("output is not valid UTF-8")

// Result contains the results of a timed command execution
type Result struct {
	Command    string
	Args       []string
	StartedAt  time.Time
	DurationMs int64
	Stdout     string
	Stderr     string
	ExitCode   int
	Error      error
	Started    bool // false when the process could not be spawned
}

// Options configures command execution
type Options struct {
	Dir     string        // Working directory
	Env     []string      // Extra KEY=VALUE pairs appended to the current environment
	Timeout time.Duration // Command timeout (0 for no timeout)

	// Passthrough streams the child's stdout/stderr to this writer in
	// addition to capturing them. Nil means capture only.
	Passthrough io.Writer
}

// RunFunc has the signature of Run so callers can substitute a fake
type RunFunc func(ctx context.Context, command string, args []string, opts *Options) *Result

// Run executes a command and measures its execution time with millisecond precision.
// It never panics and always returns a non-nil Result.
func Run(ctx context.Context, command string, args []string, opts *Options) *Result {
	if opts == nil {
		opts = &Options{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := &Result{
		Command: command,
		Args:    args,
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if command == "" {
		result.StartedAt = time.Now()
		result.Error = errors.New("empty command")
		result.ExitCode = -1
		return result
	}

	cmd := exec.CommandContext(ctx, command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	if opts.Passthrough != nil {
		cmd.Stdout = io.MultiWriter(&stdout, opts.Passthrough)
		cmd.Stderr = io.MultiWriter(&stderr, opts.Passthrough)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	result.StartedAt = time.Now()
	err := cmd.Start()
	if err != nil {
		// Never ran: no duration is reported
		result.Error = err
		result.ExitCode = -1
		return result
	}
	result.Started = true
	err = cmd.Wait()
	result.DurationMs = time.Since(result.StartedAt).Milliseconds()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		result.Error = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}

	return result
}

// Success returns true if the command executed successfully
func (r *Result) Success() bool {
	return r.ExitCode == 0 && r.Error == nil
}

// Err converts the result into an error, or nil on success
func (r *Result) Err() error {
	if r.Success() {
		return nil
	}
	if !r.Started {
		return fmt.Errorf("%s could not run: %w", r.Command, r.Error)
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		return fmt.Errorf("%s exited with code %d", r.Command, r.ExitCode)
	}
	return fmt.Errorf("%s exited with code %d: %s", r.Command, r.ExitCode, msg)
}

// Text returns trimmed stdout, failing if it is not valid UTF-8
func (r *Result) Text() (string, error) {
	if !utf8.ValidString(r.Stdout) {
		return "", ErrNotUTF8
	}
	return strings.TrimSpace(r.Stdout), nil
}

// Elapsed returns the measured duration
func (r *Result) Elapsed() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// String returns a human-readable summary of the result
func (r *Result) String() string {
	status := "success"
	if !r.Success() {
		status = fmt.Sprintf("failed (exit code %d)", r.ExitCode)
	}

	return fmt.Sprintf("%s %v: %s (%.3fs)",
		r.Command,
		r.Args,
		status,
		float64(r.DurationMs)/1000.0,
	)
}

// DebugString returns a detailed debug output
func (r *Result) DebugString() string {
	output := r.String() + "\n"

	if r.Stdout != "" {
		output += fmt.Sprintf("STDOUT:\n%s\n", r.Stdout)
	}

	if r.Stderr != "" {
		output += fmt.Sprintf("STDERR:\n%s\n", r.Stderr)
	}

	if r.Error != nil {
		output += fmt.Sprintf("ERROR: %v\n", r.Error)
	}

	return output
}
