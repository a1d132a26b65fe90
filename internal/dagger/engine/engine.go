package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/output"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// API is the subset of the Docker Engine API used by the controller.
type API interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerCreate(
		ctx context.Context,
		config *container.Config,
		hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *ocispec.Platform,
		containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	VolumeInspect(ctx context.Context, volumeID string) (volume.Volume, error)
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
	DiskUsage(ctx context.Context, options types.DiskUsageOptions) (types.DiskUsage, error)
	Close() error
}

// Handle identifies a running engine and the volume it is bound to.
type Handle struct {
	Name    string
	ID      string
	Address string
	Volume  string
	Image   string
}

// Options configure the controller.
type Options struct {
	// Name is the engine container name.
	Name string
	// Image is the engine image repository without tag.
	Image string
	// DockerSocket is the host socket exposed to the engine.
	DockerSocket string
}

// Controller manages the engine container and its state volume.
type Controller struct {
	api  API
	out  output.Printer
	opts Options
}

// New creates a Controller over api.
func New(api API, out output.Printer, opts Options) *Controller {
	if out == nil {
		out = output.Nop{}
	}
	opts.Name = helpers.FirstNonEmpty(opts.Name, helpers.EngineName)
	opts.Image = helpers.FirstNonEmpty(opts.Image, helpers.EngineImage)
	opts.DockerSocket = helpers.FirstNonEmpty(opts.DockerSocket, helpers.DockerSocket)
	return &Controller{api: api, out: out, opts: opts}
}

// NewFromEnv connects to the Docker daemon configured by DOCKER_HOST and friends.
func NewFromEnv(out output.Printer, opts Options) (*Controller, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return New(cli, out, opts), nil
}

// Name returns the engine container name.
func (c *Controller) Name() string {
	return c.opts.Name
}

// Address returns the runner address clients use to reach the engine.
func (c *Controller) Address() string {
	return helpers.EngineAddressScheme + c.opts.Name
}

// Close releases the API client.
func (c *Controller) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

// FindRunning returns the first running container named name.
// A missing container is reported as ok == false, never as an error.
func (c *Controller) FindRunning(ctx context.Context, name string) (Handle, bool, error) {
	if c.api == nil {
		return Handle{}, false, helpers.ErrDockerClientNil
	}
	name = helpers.FirstNonEmpty(name, c.opts.Name)
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return Handle{}, false, nil
		}
		return Handle{}, false, fmt.Errorf("list containers: %w", err)
	}
	if len(list) == 0 {
		return Handle{}, false, nil
	}
	found := list[0]
	h := Handle{
		Name:    name,
		ID:      found.ID,
		Address: helpers.EngineAddressScheme + name,
		Image:   found.Image,
	}
	for _, m := range found.Mounts {
		if m.Type == mount.TypeVolume && m.Destination == helpers.EngineStateDir {
			h.Volume = m.Name
		}
	}
	return h, true, nil
}

// FindHelpers returns the archive helper containers still present, which
// happens when the daemon missed the stop of a cancelled backup or restore.
func (c *Controller) FindHelpers(ctx context.Context) ([]Handle, error) {
	if c.api == nil {
		return nil, helpers.ErrDockerClientNil
	}
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", helpers.HelperLabel+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("list helper containers: %w", err)
	}
	found := make([]Handle, 0, len(list))
	for _, s := range list {
		h := Handle{ID: s.ID, Image: s.Image}
		if len(s.Names) > 0 {
			h.Name = strings.TrimPrefix(s.Names[0], "/")
		}
		found = append(found, h)
	}
	return found, nil
}

// Stop force-removes the engine container without a graceful shutdown.
// A container that is already gone counts as stopped.
func (c *Controller) Stop(ctx context.Context, h Handle) error {
	if c.api == nil {
		return helpers.ErrDockerClientNil
	}
	target := helpers.FirstNonEmpty(h.ID, h.Name, c.opts.Name)
	err := c.api.ContainerRemove(ctx, target, container.RemoveOptions{Force: true})
	if err == nil || cerrdefs.IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("remove engine %s: %w", target, err)
}

// Start replaces any stale engine with a fresh one bound to vol and running
// the engine image for version.
func (c *Controller) Start(ctx context.Context, vol, version string) (Handle, error) {
	if c.api == nil {
		return Handle{}, helpers.ErrDockerClientNil
	}
	tag, err := ImageTag(version)
	if err != nil {
		return Handle{}, err
	}
	ref := c.opts.Image + ":" + tag

	if err := c.Stop(ctx, Handle{Name: c.opts.Name}); err != nil {
		return Handle{}, fmt.Errorf("remove stale engine: %w", err)
	}
	if err := c.EnsureVolume(ctx, vol); err != nil {
		return Handle{}, err
	}
	if err := c.ensureImage(ctx, ref); err != nil {
		return Handle{}, err
	}

	start := time.Now()
	created, err := c.api.ContainerCreate(ctx,
		&container.Config{
			Image:  ref,
			Labels: map[string]string{helpers.EngineManagedLabel: "true"},
		},
		&container.HostConfig{
			Privileged: true,
			Mounts: []mount.Mount{
				{Type: mount.TypeVolume, Source: vol, Target: helpers.EngineStateDir},
				{Type: mount.TypeBind, Source: c.opts.DockerSocket, Target: helpers.DockerSocket},
			},
		},
		nil, nil, c.opts.Name,
	)
	if err != nil {
		return Handle{}, fmt.Errorf("create engine %s: %w", c.opts.Name, err)
	}
	for _, w := range created.Warnings {
		c.out.Debugf("engine create warning: %s", w)
	}
	if err := c.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = c.api.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return Handle{}, fmt.Errorf("start engine %s: %w", c.opts.Name, err)
	}
	c.out.DebugSincef(start, "engine %s started from %s", c.opts.Name, ref)
	return Handle{
		Name:    c.opts.Name,
		ID:      created.ID,
		Address: c.Address(),
		Volume:  vol,
		Image:   ref,
	}, nil
}

// VolumeExists reports whether the named volume exists.
func (c *Controller) VolumeExists(ctx context.Context, name string) (bool, error) {
	if c.api == nil {
		return false, helpers.ErrDockerClientNil
	}
	if _, err := c.api.VolumeInspect(ctx, name); err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnsureVolume creates the named volume when it does not exist.
func (c *Controller) EnsureVolume(ctx context.Context, name string) error {
	exists, err := c.VolumeExists(ctx, name)
	if err != nil {
		return fmt.Errorf("inspect volume %s: %w", name, err)
	}
	if exists {
		return nil
	}
	if _, err := c.api.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Labels: map[string]string{helpers.EngineManagedLabel: "true"},
	}); err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}
	c.out.Debugf("volume %s created", name)
	return nil
}

// RemoveVolume deletes the named volume; a missing volume is not an error.
func (c *Controller) RemoveVolume(ctx context.Context, name string) error {
	if c.api == nil {
		return helpers.ErrDockerClientNil
	}
	if err := c.api.VolumeRemove(ctx, name, true); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}

// VolumeSizeBytes returns the disk usage of the named volume, 0 when unknown.
func (c *Controller) VolumeSizeBytes(ctx context.Context, name string) uint64 {
	if c.api == nil {
		return 0
	}
	usage, err := c.api.DiskUsage(ctx, types.DiskUsageOptions{Types: []types.DiskUsageObject{types.VolumeObject}})
	if err != nil {
		c.out.Debugf("disk usage: %v", err)
		return 0
	}
	for _, v := range usage.Volumes {
		if v == nil || v.Name != name || v.UsageData == nil {
			continue
		}
		if v.UsageData.Size < 0 {
			return 0
		}
		return uint64(v.UsageData.Size)
	}
	return 0
}

// ensureImage pulls ref unless it is already present locally.
func (c *Controller) ensureImage(ctx context.Context, ref string) error {
	images, err := c.api.ImageList(ctx, image.ListOptions{Filters: filters.NewArgs(filters.Arg("reference", ref))})
	if err == nil && len(images) > 0 {
		return nil
	}
	start := time.Now()
	c.out.Printf("🚀 pull %s", ref)
	rc, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer func() {
		_ = rc.Close()
	}()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	c.out.DebugSincef(start, "image %s pulled", ref)
	return nil
}

// ImageTag returns the engine image tag for version: "v"-prefixed semver when
// version parses, the raw value otherwise.
func ImageTag(version string) (string, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return "", helpers.ErrVersionEmpty
	}
	sv, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return version, nil
	}
	return "v" + sv.String(), nil
}
