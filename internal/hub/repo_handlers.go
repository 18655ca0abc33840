package hub

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/dronehub/internal/hive"
	"github.com/zulandar/dronehub/internal/repo"
)

func (s *Server) handlePullRequests(c *gin.Context) {
	drone := s.resolveDrone(c)
	if drone == nil {
		return
	}
	if drone.RepoPath == "" {
		respondErr(c, fmt.Errorf("%s: %w", drone.Name, hive.ErrNoRepo))
		return
	}
	client, err := s.newRepoReader(c.Request.Context(), drone.RepoPath, s.ghToken)
	if err != nil {
		respondErr(c, err)
		return
	}
	prs, err := client.PullRequests(c.Request.Context(), c.Query("state"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if prs == nil {
		prs = []repo.PullRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "pullRequests": prs})
}

func (s *Server) handlePullRequestChanges(c *gin.Context) {
	drone := s.resolveDrone(c)
	if drone == nil {
		return
	}
	if drone.RepoPath == "" {
		respondErr(c, fmt.Errorf("%s: %w", drone.Name, hive.ErrNoRepo))
		return
	}
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid pull request number"})
		return
	}
	client, err := s.newRepoReader(c.Request.Context(), drone.RepoPath, s.ghToken)
	if err != nil {
		respondErr(c, err)
		return
	}
	files, err := client.Changes(c.Request.Context(), number)
	if err != nil {
		respondErr(c, err)
		return
	}
	if files == nil {
		files = []repo.ChangedFile{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "files": files})
}

func (s *Server) handleApplyPatch(c *gin.Context) {
	drone := s.resolveDrone(c)
	if drone == nil {
		return
	}
	if drone.RepoPath == "" {
		respondErr(c, fmt.Errorf("%s: %w", drone.Name, hive.ErrNoRepo))
		return
	}
	var req struct {
		PatchName string `json:"patchName"`
		Patch     string `json:"patch"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body: " + err.Error()})
		return
	}
	if req.Patch == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "patch is required"})
		return
	}
	if req.PatchName == "" {
		req.PatchName = "inline.patch"
	}
	if err := repo.ApplyPatch(c.Request.Context(), drone.RepoPath, req.PatchName, []byte(req.Patch)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "patchName": req.PatchName})
}
