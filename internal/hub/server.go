// Package hub exposes the drone registry and lifecycle operations over
// an authenticated HTTP API, and reverse-proxies preview traffic to
// drone host ports.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/dronehub/internal/audit"
	"github.com/zulandar/dronehub/internal/hive"
	"github.com/zulandar/dronehub/internal/preview"
	"github.com/zulandar/dronehub/internal/registry"
	"github.com/zulandar/dronehub/internal/repo"
)

// repoReader is the slice of the GitHub client the handlers use,
// injectable for tests.
type repoReader interface {
	PullRequests(ctx context.Context, state string) ([]repo.PullRequest, error)
	Changes(ctx context.Context, number int) ([]repo.ChangedFile, error)
}

// Server holds the composed hub dependencies.
type Server struct {
	hive   *hive.Orchestrator
	store  registry.Store
	trail  *audit.Log
	prober *preview.Prober

	token   string
	ghToken string

	// newRepoReader builds a GitHub client for a drone's repo path.
	// Tests substitute a stub.
	newRepoReader func(ctx context.Context, repoPath, token string) (repoReader, error)
}

// StartOpts holds configuration for the hub server.
type StartOpts struct {
	Hive        *hive.Orchestrator
	Store       registry.Store
	Audit       *audit.Log
	Prober      *preview.Prober
	Token       string
	GitHubToken string
	Port        int
	Out         io.Writer
}

// Start launches the hub HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	srv, err := newServer(opts)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.registerRoutes(router)

	if opts.Port <= 0 {
		opts.Port = 7700
	}
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		httpSrv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Hub listening at http://127.0.0.1:%d\n", opts.Port)
	}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("hub: %w", err)
	}
	return nil
}

func newServer(opts StartOpts) (*Server, error) {
	if opts.Hive == nil {
		return nil, fmt.Errorf("hub: orchestrator is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("hub: store is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("hub: auth token is required")
	}
	srv := &Server{
		hive:    opts.Hive,
		store:   opts.Store,
		trail:   opts.Audit,
		prober:  opts.Prober,
		token:   opts.Token,
		ghToken: opts.GitHubToken,
	}
	srv.newRepoReader = func(ctx context.Context, repoPath, token string) (repoReader, error) {
		return repo.NewClient(ctx, repoPath, token)
	}
	return srv, nil
}

// registerRoutes sets up all hub routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := router.Group("/api", s.authMiddleware())

	api.GET("/drones", s.handleListDrones)
	api.POST("/drones", s.handleCreateDrone)

	drone := api.Group("/drones/:id")
	drone.GET("/status", s.handleStatus)
	drone.GET("/ports", s.handlePorts)
	drone.GET("/fs/list", s.handleFSList)
	drone.POST("/exec", s.handleExec)
	drone.POST("/rename", s.handleRename)
	drone.POST("/group", s.handleAssignGroup)
	drone.DELETE("", s.handleRemove)
	// Repo routes are registered explicitly so they match before the
	// generic 404 fallthrough; their handlers own the no-repo 400.
	drone.GET("/repo/pull-requests", s.handlePullRequests)
	drone.GET("/repo/pull-requests/:number/changes", s.handlePullRequestChanges)
	drone.POST("/repo/patch", s.handleApplyPatch)
	drone.Any("/preview/:port/*path", s.handlePreview)

	api.GET("/groups", s.handleListGroups)
	api.POST("/groups", s.handleCreateGroup)
	api.POST("/groups/:name/rename", s.handleRenameGroup)
	api.DELETE("/groups/:name", s.handleDeleteGroup)

	api.GET("/events", s.handleEvents)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not found"})
	})
}

// authMiddleware enforces bearer-token authentication on /api routes.
func (s *Server) authMiddleware() gin.HandlerFunc {
	want := "Bearer " + s.token
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != want {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}
