package health

import (
	"context"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DirChecker verifies that a directory exists, or can be created, and is
// writable.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a checker for path.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

// Name returns the name of this health check.
func (c *DirChecker) Name() string {
	return c.name
}

// Check creates and removes a probe file in the directory.
func (c *DirChecker) Check(ctx context.Context) *Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("check cancelled").WithDetail("error", err.Error())
	}
	if err := os.MkdirAll(c.path, 0750); err != nil {
		return Unhealthy("directory cannot be created").
			WithDetail("path", c.path).
			WithDetail("error", err.Error())
	}

	probe, err := os.CreateTemp(c.path, ".probe-*")
	if err != nil {
		return Unhealthy("directory is not writable").
			WithDetail("path", c.path).
			WithDetail("error", err.Error())
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	abs, err := filepath.Abs(c.path)
	if err != nil {
		abs = c.path
	}
	return Healthy("directory is writable").WithDetail("path", abs)
}

// ExecutableChecker verifies that the program behind an exec worker is on
// PATH.
type ExecutableChecker struct {
	capability string
	command    string
}

// NewExecutableChecker creates a checker for the worker of capability.
func NewExecutableChecker(capability, command string) *ExecutableChecker {
	return &ExecutableChecker{capability: capability, command: command}
}

// Name returns the name of this health check.
func (c *ExecutableChecker) Name() string {
	return "worker-" + c.capability
}

// Check resolves the command.
func (c *ExecutableChecker) Check(context.Context) *Result {
	path, err := exec.LookPath(c.command)
	if err != nil {
		return Unhealthy("worker executable not found").
			WithDetail("command", c.command).
			WithDetail("error", err.Error())
	}
	return Healthy("worker executable found").WithDetail("path", path)
}

// EndpointChecker verifies that a TCP endpoint accepts connections. An
// unreachable endpoint is degraded, not unhealthy: runs still succeed
// without it.
type EndpointChecker struct {
	name     string
	endpoint string
}

// NewEndpointChecker creates a checker for endpoint, given as host:port or
// as a URL.
func NewEndpointChecker(name, endpoint string) *EndpointChecker {
	return &EndpointChecker{name: name, endpoint: endpoint}
}

// Name returns the name of this health check.
func (c *EndpointChecker) Name() string {
	return c.name
}

// Check dials the endpoint.
func (c *EndpointChecker) Check(ctx context.Context) *Result {
	addr := hostPort(c.endpoint)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Degraded("endpoint is not reachable").
			WithDetail("endpoint", addr).
			WithDetail("error", err.Error())
	}
	_ = conn.Close()
	return Healthy("endpoint is reachable").WithDetail("endpoint", addr)
}

func hostPort(endpoint string) string {
	if !strings.Contains(endpoint, "://") {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}
