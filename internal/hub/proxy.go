package hub

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handlePreview reverse-proxies a request through the stable
// /api/drones/{id}/preview/{containerPort}/... address to the drone's
// current host port. The container port in the path is the fixed
// coordinate; the host port is looked up live so the address survives
// container restarts.
func (s *Server) handlePreview(c *gin.Context) {
	drone := s.resolveDrone(c)
	if drone == nil {
		return
	}
	containerPort, err := strconv.Atoi(c.Param("port"))
	if err != nil || containerPort < 1 || containerPort > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid container port"})
		return
	}

	hostPort := 0
	if mappings, err := s.hive.Ports(c.Request.Context(), drone.ID); err == nil {
		for _, m := range mappings {
			if m.ContainerPort == containerPort {
				hostPort = m.HostPort
				break
			}
		}
	}
	if hostPort == 0 && containerPort == drone.ContainerPort {
		// Fall back to the last observed mapping; a stopped container
		// reports no live ports.
		hostPort = drone.HostPort
	}
	if hostPort == 0 {
		c.JSON(http.StatusBadGateway, gin.H{
			"ok":    false,
			"error": fmt.Sprintf("no host port for %s port %d", drone.Name, containerPort),
		})
		return
	}

	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", hostPort)}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, `{"ok":false,"error":%q}`, "preview upstream: "+err.Error())
	}

	// The upstream sees the path inside the drone, not the proxy form,
	// and never the hub's auth header.
	c.Request.URL.Path = c.Param("path")
	c.Request.Header.Del("Authorization")
	proxy.ServeHTTP(c.Writer, c.Request)
}
