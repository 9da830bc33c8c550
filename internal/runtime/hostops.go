package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Free functions shared by the variants that execute directly on the host
// (local and worktree). They carry no state beyond their arguments.

func hostExec(ctx context.Context, command []string, cwd string, opts ExecOptions) (*Handle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = cwd
	return startCommand(ctx, cmd, opts)
}

func hostReadFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

func hostWriteFile(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent of %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, nil
}

func hostStat(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return FileInfo{Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()}, nil
}

// hostResolvePath expands ~, absolutizes, and follows symlinks.
func hostResolvePath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving ~: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// The leaf may not exist yet; canonical form of the parent is
			// still meaningful.
			return abs, nil
		}
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return resolved, nil
}

func hostNormalizePath(target, base string) string {
	if target == "" {
		return filepath.Clean(base)
	}
	if !filepath.IsAbs(target) && base != "" {
		target = filepath.Join(base, target)
	}
	return filepath.Clean(target)
}

// runInitCommand executes a project init hook through the shell, streaming a
// progress line to the sink.
func runInitCommand(ctx context.Context, dir, command string, log StatusSink) error {
	if command == "" {
		return nil
	}
	log.emit("running init command: " + command)
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("init command failed: %w\n%s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
