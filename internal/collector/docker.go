package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

// DefaultDockerHost is the local Docker Engine socket.
const DefaultDockerHost = "unix:///var/run/docker.sock"

// Docker reports CPU and memory utilisation of running containers through
// the Docker Engine API.
type Docker struct {
	client  *http.Client
	baseURL string
}

// NewDocker creates a Docker collector for host, which is either a
// unix:// socket path or a tcp://, http:// or https:// address.
func NewDocker(host string) (*Docker, error) {
	if host == "" {
		host = DefaultDockerHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("%w: docker host %q: %v", internalerrors.ErrConfiguration, host, err)
	}

	switch u.Scheme {
	case "unix":
		socket := u.Path
		transport := &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		}
		return &Docker{
			client:  &http.Client{Transport: transport, Timeout: 10 * time.Second},
			baseURL: "http://docker",
		}, nil
	case "tcp", "http":
		return &Docker{client: &http.Client{Timeout: 10 * time.Second}, baseURL: "http://" + u.Host}, nil
	case "https":
		return &Docker{client: &http.Client{Timeout: 10 * time.Second}, baseURL: "https://" + u.Host}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported docker host scheme %q", internalerrors.ErrConfiguration, u.Scheme)
	}
}

func (*Docker) Category() models.Category { return models.CategoryDockerContainerResource }

type dockerContainer struct {
	ID    string   `json:"Id"`
	Names []string `json:"Names"`
}

type dockerStats struct {
	CPUStats    dockerCPUStats `json:"cpu_stats"`
	PreCPUStats dockerCPUStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64            `json:"usage"`
		Limit uint64            `json:"limit"`
		Stats map[string]uint64 `json:"stats"`
	} `json:"memory_stats"`
}

type dockerCPUStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

func (d *Docker) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: docker %s: %v", internalerrors.ErrTransport, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: docker %s: status %d", internalerrors.ErrTransport, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// Collect samples every running container once.
func (d *Docker) Collect(ctx context.Context) (string, error) {
	var containers []dockerContainer
	if err := d.get(ctx, "/containers/json", &containers); err != nil {
		return "", err
	}

	lines := make([]string, 0, len(containers))
	for _, c := range containers {
		var stats dockerStats
		if err := d.get(ctx, "/containers/"+c.ID+"/stats?stream=false", &stats); err != nil {
			continue
		}
		lines = append(lines, record(containerName(c), percent(cpuPercent(stats)), percent(memoryPercent(stats))))
	}
	return strings.Join(lines, "\n"), nil
}

func containerName(c dockerContainer) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

// cpuPercent follows the calculation of `docker stats`.
func cpuPercent(s dockerStats) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * cpus * 100
}

// memoryPercent excludes page cache the way `docker stats` does.
func memoryPercent(s dockerStats) float64 {
	if s.MemoryStats.Limit == 0 {
		return 0
	}
	used := s.MemoryStats.Usage
	cache := s.MemoryStats.Stats["inactive_file"]
	if cache == 0 {
		cache = s.MemoryStats.Stats["cache"]
	}
	if cache < used {
		used -= cache
	}
	return float64(used) / float64(s.MemoryStats.Limit) * 100
}
