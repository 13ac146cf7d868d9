package runtime

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/distribution/reference"
	dockercontainer "github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/strslice"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

type dockerOption func(*docker)

func WithLogger(logger logr.Logger) func(*docker) {
	return func(d *docker) {
		d.logger = logger
	}
}

func WithHidePullOutput(hide bool) func(*docker) {
	return func(d *docker) {
		d.hidePullOutput = hide
	}
}

type docker struct {
	client         *dockerclient.Client
	logger         logr.Logger
	hidePullOutput bool
}

func NewDocker(client *dockerclient.Client, opts ...dockerOption) *docker {
	d := &docker{
		client: client,
		logger: logr.Discard(),
	}

	for _, o := range opts {
		o(d)
	}

	return d
}

// RunContainer creates, starts and waits for one container, streaming
// its demuxed output as it runs. The container is always removed
// afterwards; cancellation stops it first.
func (d *docker) RunContainer(ctx context.Context, spec ContainerSpec, stdout, stderr io.Writer) (int, error) {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		logger = d.logger
	}

	if err := d.ensureImage(ctx, logger, spec, stderr); err != nil {
		return -1, err
	}

	config := &dockercontainer.Config{
		Image:      spec.Image,
		Entrypoint: strslice.StrSlice(spec.Command),
		Cmd:        strslice.StrSlice(spec.Args),
		Env:        spec.Env,
		WorkingDir: spec.Workspace,
	}

	hostConfig := &dockercontainer.HostConfig{}
	if spec.Workspace != "" {
		hostConfig.Mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: spec.Workspace,
				Target: spec.Workspace,
			},
		}
	}

	createResponse, err := d.client.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return -1, fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	defer func() {
		removeCtx := context.WithoutCancel(ctx)
		_ = d.client.ContainerStop(removeCtx, createResponse.ID, dockercontainer.StopOptions{})
		_ = d.client.ContainerRemove(removeCtx, createResponse.ID, dockercontainer.RemoveOptions{})
	}()

	waitC, _ := d.client.ContainerWait(ctx, createResponse.ID, dockercontainer.WaitConditionNextExit)
	streams, err := d.client.ContainerAttach(ctx, createResponse.ID, dockercontainer.AttachOptions{
		Stdout: true,
		Stderr: true,
		Stream: true,
	})
	if err != nil {
		return -1, fmt.Errorf("container attach failed: %w", err)
	}
	defer streams.Close()

	if err := d.client.ContainerStart(ctx, createResponse.ID, dockercontainer.StartOptions{}); err != nil {
		return -1, fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	exitCode := 0
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		_, err := stdcopy.StdCopy(stdout, stderr, streams.Reader)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("demux container streams failed: %w", err)
		}

		return nil
	})

	wg.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case await := <-waitC:
			if await.Error != nil {
				return fmt.Errorf("container wait failed: %s", await.Error.Message)
			}

			exitCode = int(await.StatusCode)
			return nil
		}
	})

	if err := wg.Wait(); err != nil {
		return -1, err
	}

	return exitCode, nil
}

func (d *docker) ensureImage(ctx context.Context, logger logr.Logger, spec ContainerSpec, w io.Writer) error {
	pullImage := false
	switch spec.PullPolicy {
	case PullImagePolicyAlways:
		pullImage = true
	case PullImagePolicyNever:
		pullImage = false
	default:
		has, err := d.hasImage(ctx, spec.Image)
		if err != nil {
			return err
		}

		pullImage = !has
	}

	if !pullImage {
		return nil
	}

	logger.V(1).Info("pulling image", "image", spec.Image)

	ref, err := reference.ParseNormalizedNamed(spec.Image)
	if err != nil {
		return fmt.Errorf("invalid image reference `%s`: %w", spec.Image, err)
	}

	response, err := d.client.ImagePull(ctx, ref.String(), imagetypes.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image `%s`: %w", spec.Image, err)
	}
	defer response.Close()

	if d.hidePullOutput {
		w = io.Discard
	}

	_, err = io.Copy(w, response)
	return err
}

func (d *docker) hasImage(ctx context.Context, image string) (bool, error) {
	images, err := d.client.ImageList(ctx, imagetypes.ListOptions{})
	if err != nil {
		return false, err
	}

	for _, img := range images {
		if slices.Contains(img.RepoTags, image) {
			return true, nil
		}
	}

	return false, nil
}
