package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"
)

// ExecOptions configures a single command execution.
type ExecOptions struct {
	// Cwd is the working directory, interpreted by the variant. Remote
	// variants reject Windows-looking paths and fall back to the workspace
	// folder.
	Cwd string

	// Env entries in KEY=VALUE form, appended to the backend's environment.
	Env []string

	// Timeout kills the process when exceeded. Zero means no timeout.
	Timeout time.Duration

	// ForcePty allocates a pseudo-terminal. Stdout then carries the merged
	// terminal stream and Stderr is empty.
	ForcePty bool
}

// ExitStatus carries the independently observable results of a finished
// process.
type ExitStatus struct {
	Code     int
	Duration time.Duration
}

// Handle exposes the streams of a running process. Callers must drain Stdout
// and Stderr; unread output applies backpressure and stalls the process.
type Handle struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader

	done   chan struct{}
	status ExitStatus
	err    error
}

// Wait blocks until the process exits or ctx is done. A nonzero exit code is
// reported in ExitStatus, not as an error; the error covers spawn and wait
// failures only.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
		return h.status, h.err
	case <-ctx.Done():
		return ExitStatus{Code: -1}, ctx.Err()
	}
}

// finishedHandle builds a Handle for an execution that already completed,
// used by backends whose API returns buffered output instead of streams.
func finishedHandle(stdout, stderr string, status ExitStatus) *Handle {
	h := &Handle{
		Stdin:  nopWriteCloser{io.Discard},
		Stdout: strings.NewReader(stdout),
		Stderr: strings.NewReader(stderr),
		done:   make(chan struct{}),
		status: status,
	}
	close(h.done)
	return h
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// startCommand launches cmd with streaming pipes and returns its Handle.
// Pipes are created manually rather than via StdoutPipe so the Wait goroutine
// never closes them out from under a caller still draining output.
func startCommand(ctx context.Context, cmd *exec.Cmd, opts ExecOptions) (*Handle, error) {
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	h := &Handle{done: make(chan struct{})}
	start := time.Now()

	if opts.ForcePty {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			return nil, fmt.Errorf("starting pty: %w", err)
		}
		h.Stdin = ptmx
		h.Stdout = ptmx
		h.Stderr = strings.NewReader("")
		go func() {
			defer close(h.done)
			defer ptmx.Close()
			if cancel != nil {
				defer cancel()
			}
			h.status, h.err = waitOrCancel(ctx, cmd, start)
		}()
		return h, nil
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("starting process: %w", err)
	}

	// The child holds its own copies of these descriptors.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	h.Stdin = stdinW
	h.Stdout = stdoutR
	h.Stderr = stderrR

	go func() {
		defer close(h.done)
		if cancel != nil {
			defer cancel()
		}
		h.status, h.err = waitOrCancel(ctx, cmd, start)
	}()

	return h, nil
}

func waitOrCancel(ctx context.Context, cmd *exec.Cmd, start time.Time) (ExitStatus, error) {
	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		case <-waitDone:
		}
	}()

	err := cmd.Wait()
	close(waitDone)

	status := ExitStatus{Duration: time.Since(start)}
	if err == nil {
		return status, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		status.Code = exitErr.ExitCode()
		return status, nil
	}
	status.Code = -1
	return status, fmt.Errorf("waiting for process: %w", err)
}

// runAndCollect executes a command to completion and returns its combined
// exit status with collected stdout. Helper for backends whose management
// operations are short CLI invocations.
func runAndCollect(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), msg)
		}
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// shellJoin quotes argv for transport through a remote shell.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\&|;<>()*?[]#~%{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
