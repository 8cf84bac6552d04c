package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Mount binds a host directory into the build container.
type Mount struct {
	Source string
	Target string
}

type DockerExecutorOptions struct {
	Image         string
	Mounts        []Mount
	Workdir       string
	ShowImagePull bool
	Stdout        io.Writer
	Stderr        io.Writer
}

// DockerExecutor runs scripts inside throwaway containers so linux and
// windows (mingw) toolchains build in a reproducible environment
// independent of the machine's own compilers.
type DockerExecutor struct {
	name string
	opts DockerExecutorOptions
}

func NewDockerExecutor(name string, opts DockerExecutorOptions) *DockerExecutor {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	return &DockerExecutor{
		name: slug.Make(name),
		opts: opts,
	}
}

func (d *DockerExecutor) Execute(ctx context.Context, script Script) error {
	containerName := slug.Make(d.name + "-" + script.Name + "-" + uuid.NewString())

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("unable to create docker client for %s: %w", containerName, err)
	}
	defer cli.Close()

	reader, err := cli.ImagePull(ctx, d.opts.Image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("unable to pull image %s for %s: %w", d.opts.Image, containerName, err)
	}
	defer reader.Close()
	if d.opts.ShowImagePull {
		if _, err := io.Copy(d.opts.Stdout, reader); err != nil {
			return fmt.Errorf("unable to read image pull logs for %s: %w", containerName, err)
		}
	} else if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("unable to drain image pull for %s: %w", containerName, err)
	}

	mounts := make([]mount.Mount, 0, len(d.opts.Mounts))
	for _, m := range d.opts.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: m.Source,
			Target: m.Target,
		})
	}

	workdir := script.Workdir
	if workdir == "" {
		workdir = d.opts.Workdir
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:      d.opts.Image,
		Env:        script.Env,
		Cmd:        []string{"/bin/sh", "-c", strings.Join(script.Commands, "\n")},
		WorkingDir: workdir,
	}, &container.HostConfig{
		Mounts: mounts,
	}, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("unable to create container %s: %w", containerName, err)
	}
	defer cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})

	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("unable to start container %s: %w", containerName, err)
	}

	logs, err := cli.ContainerLogs(ctx, resp.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("unable to attach logs for %s: %w", containerName, err)
	}
	defer logs.Close()

	out := d.opts.Stdout
	if script.Output != nil {
		out = io.MultiWriter(out, script.Output)
	}
	if _, err := io.Copy(out, logs); err != nil {
		return fmt.Errorf("unable to read container logs from %s: %w", containerName, err)
	}

	statusCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return fmt.Errorf("error waiting for container %s to stop: %w", containerName, err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("script %s exited with status %d in %s", script.Name, status.StatusCode, containerName)
		}
	case <-ctx.Done():
		return fmt.Errorf("context cancelled, stopping container %s: %w", containerName, ctx.Err())
	}

	return nil
}
