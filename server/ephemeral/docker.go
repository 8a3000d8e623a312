package ephemeral

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/go-connections/nat"

	dockerclient "github.com/docker/docker/client"
)

const redisContainerPort = "6379/tcp"

// dockerRuntime implements Runtime against the docker daemon.
type dockerRuntime struct {
	client *dockerclient.Client
}

// NewDockerRuntime connects to the daemon configured by the DOCKER_* env
// vars (the local socket by default).
func NewDockerRuntime() (Runtime, error) {
	c, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, status.FailedPreconditionErrorf("create docker client: %s", err)
	}
	return &dockerRuntime{client: c}, nil
}

func wrapDockerErr(err error, contextMsg string) error {
	if err == nil {
		return nil
	}
	if dockerclient.IsErrConnectionFailed(err) {
		return status.FailedPreconditionErrorf("%s: docker is not available: %s", contextMsg, err)
	}
	if dockerclient.IsErrNotFound(err) {
		return status.NotFoundErrorf("%s: %s", contextMsg, err)
	}
	return status.UnavailableErrorf("%s: %s", contextMsg, err)
}

func (d *dockerRuntime) Pull(ctx context.Context, ref string) error {
	rc, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return wrapDockerErr(err, fmt.Sprintf("docker pull %q", ref))
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return wrapDockerErr(err, fmt.Sprintf("docker pull %q", ref))
	}
	return nil
}

func (d *dockerRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	port := nat.Port(redisContainerPort)
	cfg := &container.Config{
		Image:        spec.Image,
		Labels:       map[string]string{spec.Label: ""},
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: spec.HostIP, HostPort: strconv.Itoa(spec.HostPort)}},
		},
	}
	resp, err := d.client.ContainerCreate(
		ctx,
		cfg,
		hostCfg,
		/*networkingConfig=*/ nil,
		/*platform=*/ nil,
		spec.Name,
	)
	if err != nil {
		return "", wrapDockerErr(err, "failed to create docker container")
	}
	return resp.ID, nil
}

func (d *dockerRuntime) Start(ctx context.Context, id string) error {
	return wrapDockerErr(d.client.ContainerStart(ctx, id, container.StartOptions{}), "failed to start docker container")
}

func (d *dockerRuntime) List(ctx context.Context, label string) ([]Container, error) {
	summaries, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		return nil, wrapDockerErr(err, "failed to list docker containers")
	}
	out := make([]Container, 0, len(summaries))
	for _, s := range summaries {
		c := Container{ID: s.ID, State: s.State}
		if len(s.Names) > 0 {
			c.Name = strings.TrimPrefix(s.Names[0], "/")
		}
		out = append(out, c)
	}
	return out, nil
}

func (d *dockerRuntime) Kill(ctx context.Context, id string) error {
	return wrapDockerErr(d.client.ContainerKill(ctx, id, "SIGKILL"), "failed to kill docker container")
}

func (d *dockerRuntime) Remove(ctx context.Context, id string) error {
	return wrapDockerErr(d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}), "failed to remove docker container")
}

func (d *dockerRuntime) Close() error {
	return d.client.Close()
}
