package runner

import (
	"context"
	"io"
)

// Script is one opaque shell payload handed to an Executor by a build
// step. Commands are joined into a single shell invocation so a failing
// command aborts the whole script. Output, when set, receives a copy of
// the script's combined output in addition to the executor's own writer
// (used for per-step log files).
type Script struct {
	Name     string
	Commands []string
	Env      []string
	Workdir  string
	Output   io.Writer
}

// Executor runs a script either directly on the build machine or inside
// a container, keeping the step runner platform-agnostic.
type Executor interface {
	Execute(ctx context.Context, script Script) error
}
