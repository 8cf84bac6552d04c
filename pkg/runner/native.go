package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// NativeExecutor runs scripts directly on the build machine, used for the
// native target and for macOS where no container runtime is assumed.
type NativeExecutor struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewNativeExecutor(stdout, stderr io.Writer) *NativeExecutor {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &NativeExecutor{Stdout: stdout, Stderr: stderr}
}

func (n *NativeExecutor) Execute(ctx context.Context, script Script) error {
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", strings.Join(script.Commands, "\n"))
	cmd.Dir = script.Workdir
	cmd.Env = append(os.Environ(), script.Env...)
	cmd.Stdout = n.Stdout
	cmd.Stderr = n.Stderr
	if script.Output != nil {
		cmd.Stdout = io.MultiWriter(n.Stdout, script.Output)
		cmd.Stderr = io.MultiWriter(n.Stderr, script.Output)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("script %s: %w", script.Name, err)
	}
	return nil
}
