package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/launcher"
)

const containerStopTimeout = 10 // seconds

// DockerLauncher runs one browserless/chrome container per session and
// attaches to it over CDP. Useful when the host has no Chromium install or
// sessions need stronger isolation than a process.
type DockerLauncher struct {
	client  *client.Client
	image   string
	quality int
}

func NewDockerLauncher(img string, jpegQuality int) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if jpegQuality == 0 {
		jpegQuality = 95
	}
	return &DockerLauncher{client: cli, image: img, quality: jpegQuality}, nil
}

// EnsureImage pulls the browser image if it is not present locally.
func (d *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.image {
				return nil
			}
		}
	}

	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", d.image, err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Launch starts a container, waits for its CDP endpoint, and connects.
func (d *DockerLauncher) Launch(ctx context.Context, opts LaunchOptions) (Page, error) {
	containerConfig := &container.Config{
		Image: d.image,
		Labels: map[string]string{
			"session-id": opts.SessionID,
			"managed-by": "handoff",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: "0"},
			},
		},
	}

	name := "handoff-session"
	if len(opts.SessionID) >= 8 {
		name = fmt.Sprintf("handoff-%s", opts.SessionID[:8])
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		d.remove(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		d.remove(resp.ID)
		return nil, fmt.Errorf("container exposed no CDP port")
	}
	port := bindings[0].HostPort

	if err := d.waitForBrowserReady(ctx, port); err != nil {
		d.remove(resp.ID)
		return nil, err
	}

	controlURL, err := launcher.ResolveURL(fmt.Sprintf("http://localhost:%s", port))
	if err != nil {
		d.remove(resp.ID)
		return nil, fmt.Errorf("failed to resolve CDP endpoint: %w", err)
	}

	// The browser outlives the launch deadline; callers bound individual
	// operations with their own contexts.
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		d.remove(resp.ID)
		return nil, fmt.Errorf("failed to connect to containerized browser: %w", err)
	}
	b.DefaultDevice(devices.Clear)

	pg, err := newStealthPage(b, true)
	if err != nil {
		b.Close()
		d.remove(resp.ID)
		return nil, err
	}

	containerID := resp.ID
	p := &rodPage{
		browser: b,
		page:    pg,
		quality: d.quality,
		kill:    func() { d.remove(containerID) },
		release: func(context.Context) error { return d.stop(containerID) },
	}
	if err := p.prepare(opts); err != nil {
		p.Close(ctx)
		return nil, err
	}
	return p, nil
}

// stop shuts the container down and removes it. Runs on its own deadline:
// the caller's context is usually already spent by the time resources are
// being released.
func (d *DockerLauncher) stop(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := containerStopTimeout
	if err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// remove force-removes a container, for teardown on error paths.
func (d *DockerLauncher) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// Ping reports whether the Docker daemon is reachable.
func (d *DockerLauncher) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

func (d *DockerLauncher) Close() error {
	return d.client.Close()
}

// waitForBrowserReady polls the container's /json/version endpoint until
// the CDP listener answers.
func (d *DockerLauncher) waitForBrowserReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	const maxRetries = 20

	for i := 0; i < maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	return fmt.Errorf("browser did not become ready after %d retries", maxRetries)
}
