// Package preview maps container-relative ports to stable proxy paths.
//
// Host ports are ephemeral: the runtime reassigns them on every
// container restart. The hub therefore addresses drone ports through
// /api/drones/{id}/preview/{containerPort}/... paths that stay valid
// across restarts, and rewrites raw loopback URLs into that stable
// form and back.
package preview

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// proxyPathRe matches the stable proxy form produced by ProxyPath.
var proxyPathRe = regexp.MustCompile(`^/api/drones/([^/]+)/preview/(\d+)(/.*)?$`)

// Target identifies one addressable drone port.
type Target struct {
	DroneID       string
	ContainerPort int
	HostPort      int
}

// ProxyPath returns the stable proxy path for a drone's container port.
func ProxyPath(droneID string, containerPort int, rest string) string {
	if rest == "" {
		rest = "/"
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return fmt.Sprintf("/api/drones/%s/preview/%d%s", droneID, containerPort, rest)
}

// ParseProxyPath splits a stable proxy path into its drone ID,
// container port, and remainder. ok is false for non-proxy paths.
func ParseProxyPath(path string) (droneID string, containerPort int, rest string, ok bool) {
	m := proxyPathRe.FindStringSubmatch(path)
	if m == nil {
		return "", 0, "", false
	}
	port, err := strconv.Atoi(m[2])
	if err != nil || port <= 0 {
		return "", 0, "", false
	}
	rest = m[3]
	if rest == "" {
		rest = "/"
	}
	return m[1], port, rest, true
}

// HostURL returns the loopback URL a proxy target forwards to.
func HostURL(hostPort int, rest string) string {
	if rest == "" {
		rest = "/"
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", hostPort, rest)
}

// RewriteToProxy translates a raw loopback URL into the stable proxy
// form by matching its port against the known targets. A user-entered
// raw URL thereby keeps resolving after the host port changes: the
// rewritten form references the container port, which is fixed.
// Returns the input unchanged if it is not a loopback URL or no target
// matches.
func RewriteToProxy(raw string, targets []Target) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		return raw
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return raw
	}
	for _, t := range targets {
		if t.HostPort == port {
			rest := u.Path
			if u.RawQuery != "" {
				rest += "?" + u.RawQuery
			}
			return ProxyPath(t.DroneID, t.ContainerPort, rest)
		}
	}
	return raw
}

// RewriteToHost translates a stable proxy path back into the raw
// loopback URL for the current host port. Returns the input unchanged
// if it is not a proxy path or no target matches.
func RewriteToHost(path string, targets []Target) string {
	droneID, containerPort, rest, ok := ParseProxyPath(path)
	if !ok {
		return path
	}
	for _, t := range targets {
		if t.DroneID == droneID && t.ContainerPort == containerPort {
			return HostURL(t.HostPort, rest)
		}
	}
	return path
}
