package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/services"
)

// Labels stamped on every sandbox container. The reaper finds expired
// sandboxes by them.
const (
	labelManaged = "steward.sandbox"
	labelID      = "steward.sandbox.id"
	labelCreated = "steward.sandbox.created"
)

const readyTimeout = 60 * time.Second

// Manager owns the docker lifecycle of sandbox containers. With a fixed
// sandbox address configured it degrades to a static resolver and never
// touches docker (single shared sandbox, development setups).
type Manager struct {
	cli      *client.Client
	fixed    *Sandbox
	settings *config.Settings
	logger   *slog.Logger
}

// NewManager connects to the docker daemon, or wires the fixed sandbox
// address when one is configured.
func NewManager(settings *config.Settings) (*Manager, error) {
	m := &Manager{
		settings: settings,
		logger:   slog.With("component", "sandbox"),
	}
	if settings.SandboxAddress != "" {
		m.fixed = newSandbox("static", settings.SandboxAddress)
		m.logger.Info("using fixed sandbox address", "address", settings.SandboxAddress)
		return m, nil
	}

	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if settings.DockerHost != "" {
		opts = append(opts, client.WithHost(settings.DockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	m.cli = cli
	return m, nil
}

// Close releases the docker client.
func (m *Manager) Close() error {
	if m.cli == nil {
		return nil
	}
	return m.cli.Close()
}

// Ensure resolves the sandbox with the given id, creating a fresh one when
// the id is empty or its container no longer exists. The second return
// value reports whether a new sandbox was created, so the caller knows to
// persist the new id.
func (m *Manager) Ensure(ctx context.Context, sandboxID string) (*Sandbox, bool, error) {
	if m.fixed != nil {
		return m.fixed, sandboxID == "", nil
	}
	if sandboxID != "" {
		sb, err := m.Get(ctx, sandboxID)
		if err == nil {
			return sb, false, nil
		}
		if !services.IsNotFound(err) {
			return nil, false, err
		}
		m.logger.Info("sandbox container gone, creating replacement", "sandbox_id", sandboxID)
	}
	sb, err := m.Create(ctx)
	if err != nil {
		return nil, false, err
	}
	return sb, true, nil
}

// Create provisions a new sandbox container and waits for its control API
// to accept requests.
func (m *Manager) Create(ctx context.Context) (*Sandbox, error) {
	if m.fixed != nil {
		return m.fixed, nil
	}
	id := models.NewID()
	name := m.settings.SandboxNamePrefix + "-" + id

	var env []string
	if m.settings.SandboxChromeArgs != "" {
		env = append(env, "CHROME_ARGS="+m.settings.SandboxChromeArgs)
	}
	if m.settings.SandboxHTTPProxy != "" {
		env = append(env, "HTTP_PROXY="+m.settings.SandboxHTTPProxy)
	}
	if m.settings.SandboxHTTPSProxy != "" {
		env = append(env, "HTTPS_PROXY="+m.settings.SandboxHTTPSProxy)
	}
	if m.settings.SandboxNoProxy != "" {
		env = append(env, "NO_PROXY="+m.settings.SandboxNoProxy)
	}

	cfg := &container.Config{
		Image: m.settings.SandboxImage,
		Env:   env,
		Labels: map[string]string{
			labelManaged: "true",
			labelID:      id,
			labelCreated: time.Now().UTC().Format(time.RFC3339),
		},
	}
	hostCfg := &container.HostConfig{}
	if m.settings.SandboxNetwork != "" {
		hostCfg.NetworkMode = container.NetworkMode(m.settings.SandboxNetwork)
	}

	resp, err := m.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox container: %w", err)
	}
	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start sandbox container %s: %w", name, err)
	}

	addr, err := m.containerAddress(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	sb := newSandbox(id, addr)
	if err := m.waitReady(ctx, sb); err != nil {
		return nil, err
	}
	m.logger.Info("sandbox created", "sandbox_id", id, "container_id", resp.ID[:12], "address", addr)
	return sb, nil
}

// Get resolves an existing sandbox by id. Returns a not-found error when
// its container is gone.
func (m *Manager) Get(ctx context.Context, sandboxID string) (*Sandbox, error) {
	if m.fixed != nil {
		return m.fixed, nil
	}
	containerID, state, err := m.findContainer(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	if state != "running" {
		if err := m.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return nil, fmt.Errorf("failed to restart sandbox container: %w", err)
		}
	}
	addr, err := m.containerAddress(ctx, containerID)
	if err != nil {
		return nil, err
	}
	return newSandbox(sandboxID, addr), nil
}

// Destroy force-removes the sandbox container. Removing an already absent
// sandbox is not an error.
func (m *Manager) Destroy(ctx context.Context, sandboxID string) error {
	if m.fixed != nil || sandboxID == "" {
		return nil
	}
	containerID, _, err := m.findContainer(ctx, sandboxID)
	if services.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		return fmt.Errorf("failed to remove sandbox container %s: %w", sandboxID, err)
	}
	m.logger.Info("sandbox destroyed", "sandbox_id", sandboxID)
	return nil
}

// Expired returns ids of sandbox containers created before the cutoff.
func (m *Manager) Expired(ctx context.Context, cutoff time.Time) ([]string, error) {
	if m.fixed != nil {
		return nil, nil
	}
	f := filters.NewArgs()
	f.Add("label", labelManaged+"=true")
	containers, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox containers: %w", err)
	}
	var expired []string
	for _, ctr := range containers {
		id := ctr.Labels[labelID]
		if id == "" {
			continue
		}
		created, err := time.Parse(time.RFC3339, ctr.Labels[labelCreated])
		if err != nil {
			// Unparseable stamp, treat as expired so it cannot leak forever.
			expired = append(expired, id)
			continue
		}
		if created.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func (m *Manager) findContainer(ctx context.Context, sandboxID string) (containerID, state string, err error) {
	f := filters.NewArgs()
	f.Add("label", labelID+"="+sandboxID)
	containers, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return "", "", fmt.Errorf("failed to list sandbox containers: %w", err)
	}
	if len(containers) == 0 {
		return "", "", fmt.Errorf("%w: sandbox %s", services.ErrNotFound, sandboxID)
	}
	return containers[0].ID, containers[0].State, nil
}

func (m *Manager) containerAddress(ctx context.Context, containerID string) (string, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect sandbox container: %w", err)
	}
	ns := inspect.NetworkSettings
	if ns == nil {
		return "", fmt.Errorf("sandbox container %s has no network settings", containerID)
	}
	if m.settings.SandboxNetwork != "" {
		if ep, ok := ns.Networks[m.settings.SandboxNetwork]; ok && ep.IPAddress != "" {
			return ep.IPAddress, nil
		}
	}
	if ns.IPAddress != "" {
		return ns.IPAddress, nil
	}
	for _, ep := range ns.Networks {
		if ep.IPAddress != "" {
			return ep.IPAddress, nil
		}
	}
	return "", fmt.Errorf("sandbox container %s has no ip address", containerID)
}

// waitReady polls the control API until it responds or the ready timeout
// elapses. A container that starts but never serves is torn down by the
// reaper later.
func (m *Manager) waitReady(ctx context.Context, sb *Sandbox) error {
	deadline := time.Now().Add(readyTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = sb.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("sandbox %s not ready after %s: %w", sb.ID(), readyTimeout, lastErr)
}
