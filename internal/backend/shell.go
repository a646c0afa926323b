package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ShellBackendImpl implements ShellBackend using os/exec.
type ShellBackendImpl struct {
	shell string // e.g., "sh", "bash", "zsh"
}

// ShellConfig holds configuration for the shell backend.
type ShellConfig struct {
	// Shell is the shell to use (default: "sh")
	Shell string
}

// NewShellBackend creates a new shell backend.
func NewShellBackend(cfg ShellConfig) *ShellBackendImpl {
	shell := cfg.Shell
	if shell == "" {
		shell = "sh"
	}
	return &ShellBackendImpl{shell: shell}
}

// Run implements ShellBackend.
func (s *ShellBackendImpl) Run(ctx context.Context, command string) (string, error) {
	return s.RunWithEnv(ctx, command, nil)
}

// RunWithEnv implements ShellBackend.
func (s *ShellBackendImpl) RunWithEnv(ctx context.Context, command string, env map[string]string) (string, error) {
	cmd := exec.CommandContext(ctx, s.shell, "-c", command)

	// Inherit parent environment and add extras
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	out, err := run(cmd)
	return string(out), err
}

// Exec implements ShellBackend.
func (s *ShellBackendImpl) Exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	return run(exec.CommandContext(ctx, name, args...))
}

// run keeps stdout clean for binary output and reports stderr on failure.
func run(cmd *exec.Cmd) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s failed: %w\nstderr: %s", cmd.Args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
