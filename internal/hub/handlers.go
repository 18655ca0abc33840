package hub

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/dronehub/internal/hive"
	"github.com/zulandar/dronehub/internal/preview"
	"github.com/zulandar/dronehub/internal/registry"
)

// resolveDrone looks up the :id route param as a drone ID or name.
// On failure it writes the error response and returns nil.
func (s *Server) resolveDrone(c *gin.Context) *registry.Drone {
	reg, err := s.store.Read()
	if err != nil {
		respondErr(c, err)
		return nil
	}
	drone := reg.ResolveDrone(c.Param("id"))
	if drone == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "drone " + c.Param("id") + " not found"})
		return nil
	}
	return drone
}

func (s *Server) handleListDrones(c *gin.Context) {
	drones, err := s.hive.List(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	sort.Slice(drones, func(i, j int) bool { return drones[i].Name < drones[j].Name })
	if drones == nil {
		drones = []*registry.Drone{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "drones": drones})
}

func (s *Server) handleCreateDrone(c *gin.Context) {
	var spec hive.CreateSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body: " + err.Error()})
		return
	}
	drone, err := s.hive.Create(c.Request.Context(), spec)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"ok":    true,
		"id":    drone.ID,
		"name":  drone.Name,
		"phase": drone.Phase,
		"drone": drone,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.hive.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "drone": st})
}

// portView is one mapping in the ports response, enriched with the
// stable proxy path and the prober's advisory reachability.
type portView struct {
	ContainerPort int                  `json:"containerPort"`
	HostPort      int                  `json:"hostPort"`
	PreviewPath   string               `json:"previewPath"`
	Reachability  preview.Reachability `json:"reachability"`
}

func (s *Server) handlePorts(c *gin.Context) {
	drone := s.resolveDrone(c)
	if drone == nil {
		return
	}
	mappings, err := s.hive.Ports(c.Request.Context(), drone.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	views := []portView{}
	for _, m := range mappings {
		v := portView{
			ContainerPort: m.ContainerPort,
			HostPort:      m.HostPort,
			PreviewPath:   preview.ProxyPath(drone.ID, m.ContainerPort, "/"),
			Reachability:  preview.ReachChecking,
		}
		if s.prober != nil {
			v.Reachability = s.prober.State(drone.ID, m.HostPort)
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "ports": views})
}

func (s *Server) handleFSList(c *gin.Context) {
	entries, err := s.hive.FSList(c.Request.Context(), c.Param("id"), c.Query("path"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if entries == nil {
		entries = []hive.FSEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entries": entries})
}

func (s *Server) handleExec(c *gin.Context) {
	var req struct {
		Cmd []string `json:"cmd"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Cmd) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "cmd is required"})
		return
	}
	res, err := s.hive.Exec(c.Request.Context(), c.Param("id"), req.Cmd)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"exitCode": res.ExitCode,
		"stdout":   res.Stdout,
		"stderr":   res.Stderr,
	})
}

func (s *Server) handleRename(c *gin.Context) {
	var req struct {
		NewName           string `json:"newName"`
		StartMode         string `json:"startMode"`
		MigrateVolumeName string `json:"migrateVolumeName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body: " + err.Error()})
		return
	}
	oldName := c.Param("id")
	err := s.hive.Rename(c.Request.Context(), oldName, req.NewName, hive.RenameOpts{
		StartMode:         req.StartMode,
		MigrateVolumeName: req.MigrateVolumeName,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "oldName": oldName, "newName": req.NewName})
}

func (s *Server) handleAssignGroup(c *gin.Context) {
	var req struct {
		Group string `json:"group"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.hive.AssignGroup(c.Request.Context(), c.Param("id"), req.Group); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleRemove(c *gin.Context) {
	keep := c.Query("keepVolume") == "true"
	if err := s.hive.Remove(c.Request.Context(), c.Param("id"), hive.RemoveOpts{KeepVolume: keep}); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.trail == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "events": []struct{}{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var (
		recs interface{}
		err  error
	)
	if droneID := c.Query("droneId"); droneID != "" {
		recs, err = s.trail.ForDrone(droneID, limit)
	} else {
		recs, err = s.trail.Recent(limit)
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "events": recs})
}
