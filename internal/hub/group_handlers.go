package hub

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/dronehub/internal/hive"
)

func (s *Server) handleListGroups(c *gin.Context) {
	groups, err := s.hive.ListGroups(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if groups == nil {
		groups = []hive.GroupInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "groups": groups})
}

func (s *Server) handleCreateGroup(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body: " + err.Error()})
		return
	}
	group, err := s.hive.CreateGroup(c.Request.Context(), req.Name)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "group": group})
}

func (s *Server) handleRenameGroup(c *gin.Context) {
	var req struct {
		NewName string `json:"newName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body: " + err.Error()})
		return
	}
	oldName := c.Param("name")
	if err := s.hive.RenameGroup(c.Request.Context(), oldName, req.NewName); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "oldName": oldName, "newName": req.NewName})
}

func (s *Server) handleDeleteGroup(c *gin.Context) {
	removed, err := s.hive.DeleteGroup(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "removed": removed})
}
